package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Ride is read-only from the ticket subsystem's perspective: the route
// admin tooling owns it, we only check existence and read display fields.
type Ride struct {
	bun.BaseModel `bun:"table:rides"`

	ID            string    `bun:"id,pk" json:"id"`
	Name          string    `bun:"name,notnull" json:"name"`
	DepartureTime string    `bun:"departure_time,notnull" json:"departure_time"` // HH:MM
	CreatedAt     time.Time `bun:"created_at,notnull" json:"created_at"`
}

type Stop struct {
	bun.BaseModel `bun:"table:stops"`

	ID   string `bun:"id,pk" json:"id"`
	Name string `bun:"name,notnull" json:"name"`
}
