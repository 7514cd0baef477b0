package session

import (
	"strings"
	"testing"
)

func TestQuotasMergeDefaults(t *testing.T) {
	q := Quotas{}.MergeDefaults()
	if q.MaxTurnsPerHour != DefaultMaxTurnsPerHour ||
		q.MaxTokensPerTurn != DefaultMaxTokensPerTurn ||
		q.MaxConcurrent != DefaultMaxConcurrent {
		t.Fatalf("zero quotas not filled: %+v", q)
	}

	q = Quotas{MaxTurnsPerHour: 5}.MergeDefaults()
	if q.MaxTurnsPerHour != 5 {
		t.Fatalf("explicit value overwritten: %+v", q)
	}
	if q.MaxConcurrent != DefaultMaxConcurrent {
		t.Fatalf("missing value not filled: %+v", q)
	}
}

func TestNormalize(t *testing.T) {
	s := &Session{}
	s.Normalize()
	if s.ActivationMode != ActivationAlways {
		t.Fatalf("activation mode not defaulted: %q", s.ActivationMode)
	}
	if s.Quotas.MaxTurnsPerHour != DefaultMaxTurnsPerHour {
		t.Fatalf("quotas not defaulted: %+v", s.Quotas)
	}

	s = &Session{Priority: 2, ActivationMode: ActivationOff}
	s.Normalize()
	if s.Priority != 2 || s.ActivationMode != ActivationOff {
		t.Fatalf("normalize clobbered set fields: %+v", s)
	}

	// Zero is the most urgent valid priority, not "unset"; normalization
	// must not bump it back to the default.
	s = &Session{Priority: 0}
	s.Normalize()
	if s.Priority != 0 {
		t.Fatalf("priority 0 reset to %d", s.Priority)
	}
}

func TestActiveAgentDirective(t *testing.T) {
	s := &Session{Directives: []Directive{
		{Content: "agent: first", Active: false},
		{Content: "be brief", Active: true},
		{Content: "AGENT:second", Active: true},
		{Content: "agent: third", Active: true},
	}}
	if got := s.ActiveAgentDirective(); got != "second" {
		t.Fatalf("want first active match in list order, got %q", got)
	}

	s = &Session{Directives: []Directive{{Content: "no agent here", Active: true}}}
	if got := s.ActiveAgentDirective(); got != "" {
		t.Fatalf("want empty, got %q", got)
	}
}

func TestApplyFieldRejectsUnknown(t *testing.T) {
	s := &Session{}
	for _, field := range []string{"id", "channelType", "chatId", "createdAt", "bogus"} {
		if err := ApplyField(s, field, "x"); err == nil {
			t.Fatalf("field %q must be rejected", field)
		}
	}
}

func TestApplyFieldPriority(t *testing.T) {
	s := &Session{}
	if err := ApplyField(s, FieldPriority, 3); err != nil {
		t.Fatalf("int priority: %v", err)
	}
	if s.Priority != 3 {
		t.Fatalf("priority not applied: %d", s.Priority)
	}

	// JSON-decoded numbers arrive as float64.
	if err := ApplyField(s, FieldPriority, float64(7)); err != nil {
		t.Fatalf("float64 priority: %v", err)
	}
	if s.Priority != 7 {
		t.Fatalf("priority not applied: %d", s.Priority)
	}

	if err := ApplyField(s, FieldPriority, "high"); err == nil {
		t.Fatal("string priority must be rejected")
	}
}

func TestApplyFieldTypedValues(t *testing.T) {
	s := &Session{}

	if err := ApplyField(s, FieldAssignedAgent, "researcher"); err != nil {
		t.Fatalf("assignedAgent: %v", err)
	}
	if s.AssignedAgent != "researcher" {
		t.Fatalf("assignedAgent not applied: %q", s.AssignedAgent)
	}

	if err := ApplyField(s, FieldQuotas, Quotas{MaxTurnsPerHour: 10}); err != nil {
		t.Fatalf("quotas: %v", err)
	}
	if s.Quotas.MaxTurnsPerHour != 10 || s.Quotas.MaxConcurrent != DefaultMaxConcurrent {
		t.Fatalf("quotas should merge defaults on apply: %+v", s.Quotas)
	}

	if err := ApplyField(s, FieldActivationMode, "mention"); err != nil {
		t.Fatalf("activationMode: %v", err)
	}
	if s.ActivationMode != ActivationMention {
		t.Fatalf("activationMode not applied: %q", s.ActivationMode)
	}

	if err := ApplyField(s, FieldActivationKeywords, []string{"urgent"}); err != nil {
		t.Fatalf("activationKeywords: %v", err)
	}
	if err := ApplyField(s, FieldMetadata, map[string]string{"k": "v"}); err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if err := ApplyField(s, FieldDirectives, []Directive{{Content: "agent: x", Active: true}}); err != nil {
		t.Fatalf("directives: %v", err)
	}

	if err := ApplyField(s, FieldMetadata, "not a map"); err == nil {
		t.Fatal("wrong metadata type must be rejected")
	}
}

func TestParseAgentDirective(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"agent: researcher", "researcher"},
		{"Agent:researcher", "researcher"},
		{"AGENT:   ops-1", "ops-1"},
		{"use agent: researcher", ""},
		{"agent:", ""},
		{"agents: researcher", ""},
	}
	for _, tt := range tests {
		if got := parseAgentDirective(tt.in); got != tt.want {
			t.Fatalf("parse %q: want %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestIsWritableField(t *testing.T) {
	for _, f := range []string{FieldPriority, FieldAssignedAgent, FieldDirectives, FieldQuotas, FieldActivationMode, FieldActivationKeywords, FieldMetadata} {
		if !IsWritableField(f) {
			t.Fatalf("%q should be writable", f)
		}
	}
	if IsWritableField("id") || IsWritableField("") {
		t.Fatal("identity fields must not be writable")
	}
	if IsWritableField(strings.ToUpper(FieldPriority)) {
		t.Fatal("field names are case-sensitive")
	}
}
