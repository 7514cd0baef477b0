package session

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a session id or channel triple has no record.
var ErrNotFound = errors.New("session not found")

// Field names accepted by Store.UpdateField. Everything else is rejected —
// identity fields (id, channel triple, timestamps) are never writable.
const (
	FieldPriority           = "priority"
	FieldAssignedAgent      = "assignedAgent"
	FieldDirectives         = "directives"
	FieldQuotas             = "quotas"
	FieldActivationMode     = "activationMode"
	FieldActivationKeywords = "activationKeywords"
	FieldMetadata           = "metadata"
)

var writableFields = map[string]bool{
	FieldPriority:           true,
	FieldAssignedAgent:      true,
	FieldDirectives:         true,
	FieldQuotas:             true,
	FieldActivationMode:     true,
	FieldActivationKeywords: true,
	FieldMetadata:           true,
}

// IsWritableField reports whether UpdateField accepts the field name.
func IsWritableField(field string) bool { return writableFields[field] }

// Filter narrows Store.List results. Zero values match everything.
type Filter struct {
	ChannelType string
	ChannelID   string
	Limit       int
}

// Store is the durable session store. Implementations must keep the
// (channelType, channelID, chatID) triple unique: GetOrCreateByChannel is
// an upsert, and concurrent first-contact creates for the same conversation
// must converge on a single record.
type Store interface {
	Save(ctx context.Context, s *Session) error
	Load(ctx context.Context, id string) (*Session, error)
	LoadByChannel(ctx context.Context, channelType, channelID, chatID string) (*Session, error)
	// GetOrCreateByChannel loads the session for the triple, creating it
	// with defaults on first contact.
	GetOrCreateByChannel(ctx context.Context, channelType, channelID, chatID string) (*Session, error)
	List(ctx context.Context, f Filter) ([]*Session, error)
	Delete(ctx context.Context, id string) error
	// UpdateField mutates a single allow-listed field. The value's dynamic
	// type must match the field (int for priority, string for
	// assignedAgent/activationMode, []Directive, Quotas, []string,
	// map[string]string).
	UpdateField(ctx context.Context, id, field string, value any) error
}

// ApplyField mutates s in place after validating the field name and value
// type. Shared by all store backends so the allow-list lives in one place.
func ApplyField(s *Session, field string, value any) error {
	if !IsWritableField(field) {
		return fmt.Errorf("field %q is not writable", field)
	}
	switch field {
	case FieldPriority:
		switch v := value.(type) {
		case int:
			s.Priority = v
		case float64: // JSON numbers decode as float64
			s.Priority = int(v)
		default:
			return fmt.Errorf("priority: want int, got %T", value)
		}
	case FieldAssignedAgent:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("assignedAgent: want string, got %T", value)
		}
		s.AssignedAgent = v
	case FieldDirectives:
		v, ok := value.([]Directive)
		if !ok {
			return fmt.Errorf("directives: want []Directive, got %T", value)
		}
		s.Directives = v
	case FieldQuotas:
		v, ok := value.(Quotas)
		if !ok {
			return fmt.Errorf("quotas: want Quotas, got %T", value)
		}
		s.Quotas = v.MergeDefaults()
	case FieldActivationMode:
		switch v := value.(type) {
		case ActivationMode:
			s.ActivationMode = v
		case string:
			s.ActivationMode = ActivationMode(v)
		default:
			return fmt.Errorf("activationMode: want string, got %T", value)
		}
	case FieldActivationKeywords:
		v, ok := value.([]string)
		if !ok {
			return fmt.Errorf("activationKeywords: want []string, got %T", value)
		}
		s.ActivationKeywords = v
	case FieldMetadata:
		v, ok := value.(map[string]string)
		if !ok {
			return fmt.Errorf("metadata: want map[string]string, got %T", value)
		}
		s.Metadata = v
	}
	return nil
}
