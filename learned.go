package appagent

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// UIRole names one semantic control the Work stage drives by coordinate.
type UIRole string

const (
	RoleLike         UIRole = "like"
	RoleComment      UIRole = "comment"
	RoleCommentInput UIRole = "commentInput"
	RoleCommentSend  UIRole = "commentSend"
	RoleCommentClose UIRole = "commentClose"
)

// requiredUIRoles lists every role the Learn stage must resolve before the
// engine may enter Work.
func requiredUIRoles() []UIRole {
	return []UIRole{RoleLike, RoleComment, RoleCommentInput, RoleCommentSend, RoleCommentClose}
}

// LearnedPoint is one resolved screen position with the model's confidence.
type LearnedPoint struct {
	Point      Point
	Confidence float64
}

// LearnedCoordinates maps UI roles to resolved screen positions. Produced
// once by the Learn stage and read-only afterward; absence of a role is a
// hard precondition failure for any action that needs it.
type LearnedCoordinates struct {
	points map[UIRole]LearnedPoint
}

// Point returns the resolved position for a role, reporting whether it was
// learned at all.
func (c LearnedCoordinates) Point(role UIRole) (LearnedPoint, bool) {
	p, ok := c.points[role]
	return p, ok
}

// Missing returns the required roles that have not been learned, sorted for
// stable reporting.
func (c LearnedCoordinates) Missing() []UIRole {
	var missing []UIRole
	for _, role := range requiredUIRoles() {
		if _, ok := c.points[role]; !ok {
			missing = append(missing, role)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing
}

// Complete reports whether every required role has been learned.
func (c LearnedCoordinates) Complete() bool {
	return len(c.Missing()) == 0
}

// learnResultSchema mirrors LearnedCoordinates: one object per role carrying
// a found flag, coordinates and confidence.
func learnResultSchema() map[string]any {
	roleSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"found":      map[string]any{"type": "boolean"},
			"x":          map[string]any{"type": "integer"},
			"y":          map[string]any{"type": "integer"},
			"confidence": map[string]any{"type": "number"},
		},
		"required": []any{"found"},
	}
	properties := make(map[string]any, len(requiredUIRoles()))
	required := make([]any, 0, len(requiredUIRoles()))
	for _, role := range requiredUIRoles() {
		properties[string(role)] = roleSchema
		required = append(required, string(role))
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// parseLearnedCoordinates converts a validated learn-session result into
// LearnedCoordinates, recording only roles marked found.
func parseLearnedCoordinates(result map[string]any) (LearnedCoordinates, error) {
	points := make(map[UIRole]LearnedPoint, len(requiredUIRoles()))
	for _, role := range requiredUIRoles() {
		entry, ok := asObject(result[string(role)])
		if !ok {
			return LearnedCoordinates{}, errors.Errorf("learn result: role %q is not an object", role)
		}
		found, _ := entry["found"].(bool)
		if !found {
			continue
		}
		x, err := intArg(entry, "x")
		if err != nil {
			return LearnedCoordinates{}, errors.Wrapf(err, "learn result: role %q", role)
		}
		y, err := intArg(entry, "y")
		if err != nil {
			return LearnedCoordinates{}, errors.Wrapf(err, "learn result: role %q", role)
		}
		confidence := 0.0
		if raw, ok := entry["confidence"].(float64); ok {
			confidence = raw
		}
		points[role] = LearnedPoint{Point: Point{X: x, Y: y}, Confidence: confidence}
	}
	return LearnedCoordinates{points: points}, nil
}

func joinRoles(roles []UIRole) string {
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, string(role))
	}
	return strings.Join(names, ", ")
}
