package persona

import (
	"strings"
	"testing"
)

func TestRole(t *testing.T) {
	t.Parallel()

	owner := Role(42, 42)
	if !strings.Contains(owner, "your owner") {
		t.Fatalf("owner prompt = %q", owner)
	}
	operator := Role(7, 42)
	if !strings.Contains(operator, "Operator") || strings.Contains(operator, "your owner.") {
		t.Fatalf("operator prompt = %q", operator)
	}
	if Role(0, 0) != operator {
		t.Fatalf("an unset owner must never match")
	}
	if Role(7, 42) != operator {
		t.Fatalf("role must be deterministic")
	}
}
