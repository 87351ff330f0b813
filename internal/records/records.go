// Package records defines the two fixed-shape input records: song catalog
// entries (song_data) and user activity events (log_data).
package records

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// NextSong is the page value of a song play event. Every other page value is
// activity that only contributes a user row.
const NextSong = "NextSong"

// Song is one record of the song catalog.
type Song struct {
	NumSongs        int      `json:"num_songs"`
	SongID          string   `json:"song_id" validate:"required"`
	Title           string   `json:"title" validate:"required"`
	Year            int      `json:"year" validate:"gte=0"`
	Duration        float64  `json:"duration" validate:"gte=0"`
	ArtistID        string   `json:"artist_id" validate:"required"`
	ArtistName      string   `json:"artist_name" validate:"required"`
	ArtistLocation  string   `json:"artist_location"`
	ArtistLatitude  *float64 `json:"artist_latitude" validate:"omitnil,latitude"`
	ArtistLongitude *float64 `json:"artist_longitude" validate:"omitnil,longitude"`
}

// Event is one record of the activity log.
//
// Fields needed for the fact row are only required on NextSong events; a
// Home or Login page view from a logged-out visitor carries no song and no
// user.
type Event struct {
	Artist        *string  `json:"artist" validate:"required_if=Page NextSong"`
	Auth          string   `json:"auth"`
	FirstName     string   `json:"firstName"`
	Gender        string   `json:"gender"`
	ItemInSession int      `json:"itemInSession"`
	LastName      string   `json:"lastName"`
	Length        *float64 `json:"length" validate:"required_if=Page NextSong"`
	Level         string   `json:"level"`
	Location      string   `json:"location"`
	Method        string   `json:"method"`
	Page          string   `json:"page" validate:"required"`
	Registration  *float64 `json:"registration"`
	SessionID     int64    `json:"sessionId"`
	Song          *string  `json:"song" validate:"required_if=Page NextSong"`
	Status        int      `json:"status"`
	TS            int64    `json:"ts" validate:"gt=0"`
	UserAgent     string   `json:"userAgent"`
	UserID        ID       `json:"userId" validate:"required_if=Page NextSong"`
}

// IsPlay reports whether the event is a song play.
func (e Event) IsPlay() bool { return e.Page == NextSong }

// ID is an identifier that arrives either as a JSON string or a JSON number.
// null and "" both decode to the empty ID.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*id = ""
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	default:
		// Numbers are kept verbatim unless they are integral floats ("42.0").
		if _, err := strconv.ParseInt(string(b), 10, 64); err == nil {
			*id = ID(b)
			return nil
		}
		f, err := strconv.ParseFloat(string(b), 64)
		if err != nil {
			return fmt.Errorf("id: want string or number, got %s", b)
		}
		if f == float64(int64(f)) {
			*id = ID(strconv.FormatInt(int64(f), 10))
			return nil
		}
		*id = ID(strconv.FormatFloat(f, 'f', -1, 64))
		return nil
	}
}

func (id ID) String() string { return string(id) }
