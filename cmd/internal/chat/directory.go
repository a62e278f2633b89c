package chat

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Directory owns the room collection and keeps room summaries consistent with
// appended messages. Rooms are ordered most-recently-created first.
type Directory struct {
	rooms []*Room
	byID  map[string]*Room
}

// NewDirectory constructs an empty directory.
func NewDirectory() *Directory {
	return &Directory{byID: make(map[string]*Room)}
}

// Create validates title and description and inserts a new room at the head.
func (d *Directory) Create(title, description string, now time.Time) (Room, error) {
	const op = "chat.CreateRoom"

	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)

	switch {
	case title == "":
		return Room{}, validationErr(op, "title is required")
	case utf8.RuneCountInString(title) > maxTitleChars:
		return Room{}, validationErr(op, fmt.Sprintf("title must be at most %d characters", maxTitleChars))
	case description == "":
		return Room{}, validationErr(op, "description is required")
	case utf8.RuneCountInString(description) > maxDescriptionChars:
		return Room{}, validationErr(op, fmt.Sprintf("description must be at most %d characters", maxDescriptionChars))
	}

	id := NewID(now)
	for d.byID[id] != nil {
		id = NewID(now)
	}

	r := &Room{
		ID:          id,
		Title:       title,
		Description: description,
		CreatedAt:   now,
	}
	d.rooms = append([]*Room{r}, d.rooms...)
	d.byID[id] = r
	return *r, nil
}

// Delete removes roomID. Message cascade is the caller's responsibility.
func (d *Directory) Delete(roomID string) (Room, error) {
	r, ok := d.byID[roomID]
	if !ok {
		return Room{}, invalidStateErr("chat.DeleteRoom", fmt.Sprintf("unknown room %s", roomID))
	}
	delete(d.byID, roomID)
	for i, other := range d.rooms {
		if other == r {
			d.rooms = append(d.rooms[:i], d.rooms[i+1:]...)
			break
		}
	}
	return *r, nil
}

// Exists reports whether roomID is a live room.
func (d *Directory) Exists(roomID string) bool {
	_, ok := d.byID[roomID]
	return ok
}

// Get returns a copy of roomID.
func (d *Directory) Get(roomID string) (Room, bool) {
	r, ok := d.byID[roomID]
	if !ok {
		return Room{}, false
	}
	return copyRoom(r), true
}

// Len returns the number of rooms.
func (d *Directory) Len() int { return len(d.rooms) }

// List returns copies of all rooms, most recent first.
func (d *Directory) List() []Room {
	out := make([]Room, 0, len(d.rooms))
	for _, r := range d.rooms {
		out = append(out, copyRoom(r))
	}
	return out
}

// Search returns rooms whose title or description contains query, ignoring case.
// An empty query matches every room.
func (d *Directory) Search(query string) []Room {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return d.List()
	}
	var out []Room
	for _, r := range d.rooms {
		if strings.Contains(strings.ToLower(r.Title), q) || strings.Contains(strings.ToLower(r.Description), q) {
			out = append(out, copyRoom(r))
		}
	}
	return out
}

// OnMessageAppended updates the summary of m's room. Unknown rooms are ignored.
func (d *Directory) OnMessageAppended(m Message) {
	r, ok := d.byID[m.RoomID]
	if !ok {
		return
	}
	at := m.Timestamp
	r.LastMessage = truncateSummary(m.Content)
	r.LastMessageAt = &at
	r.MessageCount++
}

func (d *Directory) restore(rooms []Room) error {
	d.rooms = make([]*Room, 0, len(rooms))
	d.byID = make(map[string]*Room, len(rooms))
	for i := range rooms {
		r := copyRoom(&rooms[i])
		if r.ID == "" {
			return fmt.Errorf("chat: restore: room %d has no id", i)
		}
		if _, dup := d.byID[r.ID]; dup {
			return fmt.Errorf("chat: restore: duplicate room id %s", r.ID)
		}
		d.rooms = append(d.rooms, &r)
		d.byID[r.ID] = &r
	}
	return nil
}

func copyRoom(r *Room) Room {
	out := *r
	if r.LastMessageAt != nil {
		at := *r.LastMessageAt
		out.LastMessageAt = &at
	}
	return out
}

// truncateSummary keeps the first 50 runes of s and marks the cut.
func truncateSummary(s string) string {
	if utf8.RuneCountInString(s) <= lastMessageChars {
		return s
	}
	return string([]rune(s)[:lastMessageChars]) + ellipsis
}
