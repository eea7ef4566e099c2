package draw

import "time"

// Message is a precomputed daily draw text for a numerology number.
type Message struct {
	ID        string    `json:"id" db:"id" yaml:"id"`
	Number    int       `json:"number" db:"number" yaml:"number"`
	Title     string    `json:"title" db:"title" yaml:"title"`
	Body      string    `json:"body" db:"body" yaml:"body"`
	CreatedAt time.Time `json:"created_at" db:"created_at" yaml:"-"`
}

// HistoryEntry records the message served to an identity on a given day.
type HistoryEntry struct {
	ID        string    `json:"id" db:"id"`
	Identity  string    `json:"identity" db:"identity"`
	DrawDate  time.Time `json:"draw_date" db:"draw_date"`
	MessageID string    `json:"message_id" db:"message_id"`
	Number    int       `json:"number" db:"number"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Result is what a client receives for a draw.
type Result struct {
	Identity string    `json:"identity"`
	Date     string    `json:"date"`
	Number   int       `json:"number"`
	Message  Message   `json:"message"`
	Repeat   bool      `json:"repeat"`
	ServedAt time.Time `json:"served_at"`
}

// DateKey formats the calendar day used to key history rows.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
