package appagent

import (
	"strings"
	"testing"
)

func learnResultFor(t *testing.T, roles ...UIRole) map[string]any {
	t.Helper()
	result := map[string]any{}
	for _, role := range requiredUIRoles() {
		result[string(role)] = map[string]any{"found": false}
	}
	for i, role := range roles {
		result[string(role)] = map[string]any{
			"found":      true,
			"x":          float64(100 + i),
			"y":          float64(200 + i),
			"confidence": 0.9,
		}
	}
	return result
}

func TestParseLearnedCoordinatesComplete(t *testing.T) {
	result := learnResultFor(t, requiredUIRoles()...)
	if err := validateAgainstSchema(learnResultSchema(), result); err != nil {
		t.Fatalf("fixture must satisfy the learn schema: %v", err)
	}

	learned, err := parseLearnedCoordinates(result)
	if err != nil {
		t.Fatalf("parse returned error: %v", err)
	}
	if !learned.Complete() {
		t.Fatalf("expected complete coordinates, missing %v", learned.Missing())
	}
	point, ok := learned.Point(RoleLike)
	if !ok || point.Point.X != 100 || point.Point.Y != 200 {
		t.Fatalf("unexpected like point %#v", point)
	}
	if point.Confidence != 0.9 {
		t.Fatalf("unexpected confidence %v", point.Confidence)
	}
}

func TestParseLearnedCoordinatesMissingRole(t *testing.T) {
	result := learnResultFor(t, RoleLike, RoleComment, RoleCommentInput, RoleCommentSend)

	learned, err := parseLearnedCoordinates(result)
	if err != nil {
		t.Fatalf("parse returned error: %v", err)
	}
	missing := learned.Missing()
	if len(missing) != 1 || missing[0] != RoleCommentClose {
		t.Fatalf("expected only commentClose missing, got %v", missing)
	}
	if learned.Complete() {
		t.Fatalf("coordinates with a missing role must not be complete")
	}
}

func TestParseLearnedCoordinatesRejectsMalformedRole(t *testing.T) {
	result := learnResultFor(t, requiredUIRoles()...)
	result[string(RoleComment)] = "not an object"

	_, err := parseLearnedCoordinates(result)
	if err == nil || !strings.Contains(err.Error(), "comment") {
		t.Fatalf("expected error naming the malformed role, got %v", err)
	}
}

func TestParseLearnedCoordinatesFoundWithoutPoint(t *testing.T) {
	result := learnResultFor(t, requiredUIRoles()...)
	result[string(RoleLike)] = map[string]any{"found": true}

	if _, err := parseLearnedCoordinates(result); err == nil {
		t.Fatalf("found=true without coordinates must fail")
	}
}
