package verdict

import "testing"

func TestFromReasonsAllow(t *testing.T) {
	v := FromReasons(nil, nil)
	if v.Kind != Allow || v.Reason != "" {
		t.Errorf("unexpected: %+v", v)
	}
}

func TestFromReasonsSingleDeny(t *testing.T) {
	v := FromReasons([]string{"bad thing"}, nil)
	if v.Kind != Deny || v.Reason != "[safe-docker] bad thing" {
		t.Errorf("unexpected: %+v", v)
	}
}

func TestFromReasonsDenyBeatsAsk(t *testing.T) {
	v := FromReasons([]string{"deny reason"}, []string{"ask reason"})
	if v.Kind != Deny {
		t.Errorf("expected Deny, got %+v", v)
	}
}

func TestFromReasonsMultiple(t *testing.T) {
	v := FromReasons([]string{"reason 1", "reason 2"}, nil)
	want := "[safe-docker] Multiple issues found:\n  - reason 1\n  - reason 2"
	if v.Reason != want {
		t.Errorf("got %q, want %q", v.Reason, want)
	}
}

func TestFromReasonsAskOnly(t *testing.T) {
	v := FromReasons(nil, []string{"ask reason"})
	if v.Kind != Ask || v.Reason != "[safe-docker] ask reason" {
		t.Errorf("unexpected: %+v", v)
	}
}

func TestMergeDenyPriority(t *testing.T) {
	v := Merge(AllowVerdict(), Verdict{Kind: Ask, Reason: "ask1"}, Verdict{Kind: Deny, Reason: "deny1"})
	if v.Kind != Deny || v.Reason != "deny1" {
		t.Errorf("unexpected: %+v", v)
	}
}

func TestMergeAllAllow(t *testing.T) {
	v := Merge(AllowVerdict(), AllowVerdict())
	if v.Kind != Allow {
		t.Errorf("expected Allow, got %+v", v)
	}
}

func TestMergeMultipleDeniesJoined(t *testing.T) {
	v := Merge(Verdict{Kind: Deny, Reason: "a"}, Verdict{Kind: Deny, Reason: "b"})
	if v.Reason != "a\nb" {
		t.Errorf("got %q", v.Reason)
	}
}

func TestIndirectionIsDeny(t *testing.T) {
	v := Indirection()
	if v.Kind != Deny {
		t.Errorf("expected Deny, got %+v", v)
	}
}
