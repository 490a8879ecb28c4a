package models

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Identifier prefixes. Every entity id is "<prefix><slug>".
const (
	TenantPrefix    = "t:"
	UserPrefix      = "u:"
	RoomPrefix      = "r:"
	MessagePrefix   = "m:"
	WorkspacePrefix = "w:"
	DocumentPrefix  = "d:"
	AgreementPrefix = "a:"
	CIDPrefix       = "c:"
	HeadPrefix      = "h:"
	BodyHashPrefix  = "b:"
	SessionPrefix   = "s:"
	RequestPrefix   = "req:"
)

var (
	roomIDRegex    = regexp.MustCompile(`^r:[a-z0-9-]{1,50}$`)
	messageIDRegex = regexp.MustCompile(`^m:[a-zA-Z0-9-]{1,64}$`)
	tenantIDRegex  = regexp.MustCompile(`^t:[a-zA-Z0-9._-]{1,100}$`)
)

// NewMessageID mints a globally unique message id.
func NewMessageID() string {
	return MessagePrefix + uuid.NewString()
}

// NewDocumentID mints a document id.
func NewDocumentID() string {
	return DocumentPrefix + uuid.NewString()
}

// NewSessionID mints a tool-server session id.
func NewSessionID() string {
	return SessionPrefix + uuid.NewString()
}

// NewRequestID mints a request correlation id.
func NewRequestID() string {
	return RequestPrefix + uuid.NewString()
}

// ValidRoomID reports whether id is a well-formed room id.
func ValidRoomID(id string) bool {
	return roomIDRegex.MatchString(id)
}

// ValidMessageID reports whether id is a well-formed message id.
func ValidMessageID(id string) bool {
	return messageIDRegex.MatchString(id)
}

// ValidTenantID reports whether id is a well-formed tenant id.
func ValidTenantID(id string) bool {
	return tenantIDRegex.MatchString(id)
}

// Slugify turns a human name into the id slug used for rooms and workspaces:
// lowercase, spaces to hyphens, strip everything outside [a-z0-9-], truncate
// to 50 characters.
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "-")
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > 50 {
		out = out[:50]
	}
	return out
}

// RoomAgreementID returns the governance agreement id for a room.
func RoomAgreementID(roomID string) string {
	return fmt.Sprintf("a:room:%s", roomID)
}

// TenantAgreementID returns the license agreement id for a tenant.
func TenantAgreementID(tenantID string) string {
	return fmt.Sprintf("a:tenant:%s", tenantID)
}

// WorkspaceAgreementID returns the agreement id for a workspace.
func WorkspaceAgreementID(workspaceID string) string {
	return fmt.Sprintf("a:workspace:%s", workspaceID)
}
