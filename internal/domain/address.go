package domain

import "time"

// Address is a user's shipping address. At most one address per user is primary.
type Address struct {
	ID         string
	UserID     string
	Label      string
	Recipient  string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
	IsPrimary  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
