package turtlesoup

import (
	"crypto/rand"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

const (
	roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	RoomCodeLength   = 6

	anonAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// NewRoomCode returns a random, human-enterable room code of six uppercase
// alphanumerics.
func NewRoomCode() (string, error) {
	return randomString(roomCodeAlphabet, RoomCodeLength)
}

// ValidRoomCode reports whether code has the shape produced by NewRoomCode.
func ValidRoomCode(code string) bool {
	if len(code) != RoomCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(roomCodeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}

// NewAnonymousName returns a username following the anonymous naming
// convention together with a default display name derived from it.
func NewAnonymousName() (username, nickname string, err error) {
	id, err := randomString(anonAlphabet, 8)
	if err != nil {
		return "", "", err
	}
	return AnonymousPrefix + id, "游客" + id[:4], nil
}

// randomString draws n characters from alphabet using rejection sampling so
// every character is equally likely.
func randomString(alphabet string, n int) (string, error) {
	limit := 256 - 256%len(alphabet)
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("reading random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

const inviteTitleRunes = 10

// InviteCode builds a shareable "ROOMID:title" code. Long titles are cut to
// ten characters followed by an ellipsis.
func InviteCode(roomID, title string) string {
	short := title
	if utf8.RuneCountInString(title) > inviteTitleRunes {
		short = string([]rune(title)[:inviteTitleRunes]) + "..."
	}
	return roomID + ":" + strings.ReplaceAll(url.QueryEscape(short), "+", "%20")
}

// ParseInviteCode splits an invite code back into room id and title. A bare
// room id without a title part is accepted.
func ParseInviteCode(code string) (roomID, title string, err error) {
	id, encoded, _ := strings.Cut(strings.TrimSpace(code), ":")
	id = strings.ToUpper(id)
	if !ValidRoomCode(id) {
		return "", "", fmt.Errorf("%w: malformed invite code", ErrInvalidInput)
	}
	title, err = url.QueryUnescape(encoded)
	if err != nil {
		return "", "", fmt.Errorf("%w: malformed invite title: %v", ErrInvalidInput, err)
	}
	return id, title, nil
}
