package models

// DefaultLabelColor is used when a label is created without a color
const DefaultLabelColor = "#808080"

// Label represents an email label/tag owned by a user
type Label struct {
	ID     int64   `json:"id"`
	UserID int64   `json:"user"`
	Name   string  `json:"name"`
	Color  string  `json:"color"` // Hex code, e.g. "#FF0000"
	Emails []int64 `json:"emails"`
}

// DefaultLabels are created for every new account
var DefaultLabels = []Label{
	{Name: "Important", Color: "#FF0000"},
	{Name: "Personal", Color: "#00FF00"},
	{Name: "Work", Color: "#0000FF"},
}

// EmailLabel represents a many-to-many relationship between emails and labels
type EmailLabel struct {
	EmailID int64 `json:"email_id"`
	LabelID int64 `json:"label_id"`
}
