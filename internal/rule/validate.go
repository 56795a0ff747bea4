package rule

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ruleValidate is shared by all validation calls; validator caches struct
// metadata per type so a single instance is reused.
var ruleValidate *validator.Validate

func init() {
	ruleValidate = validator.New()

	// Report JSON field names instead of Go field names.
	ruleValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Problem describes one validation failure within a rule set.
type Problem struct {
	Index   int    `json:"index"`
	RuleID  string `json:"ruleId,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	if p.Field == "" {
		return fmt.Sprintf("rule %d: %s", p.Index, p.Message)
	}
	return fmt.Sprintf("rule %d: %s: %s", p.Index, p.Field, p.Message)
}

// Validate checks a rule set and returns every problem found. An empty result
// means the set is well formed. The version store never calls this; it is
// offered to whatever produces the rules.
func Validate(rules []Rule) []Problem {
	var problems []Problem
	seen := make(map[string]int, len(rules))

	for i, r := range rules {
		if r.ID == "" {
			problems = append(problems, Problem{Index: i, Field: "id", Message: "is required"})
		} else if first, dup := seen[r.ID]; dup {
			problems = append(problems, Problem{
				Index:   i,
				RuleID:  r.ID,
				Field:   "id",
				Message: fmt.Sprintf("duplicates rule %d", first),
			})
		} else {
			seen[r.ID] = i
		}

		if r.Body == nil {
			problems = append(problems, Problem{Index: i, RuleID: r.ID, Field: "type", Message: "is required"})
			continue
		}
		if !Known(r.Type()) {
			problems = append(problems, Problem{
				Index:   i,
				RuleID:  r.ID,
				Field:   "type",
				Message: fmt.Sprintf("unknown rule type %q", r.Type()),
			})
			continue
		}

		if g, ok := r.Body.(Generic); ok {
			body, p := typedView(i, r.ID, g)
			if p != nil {
				problems = append(problems, *p)
				continue
			}
			r.Body = body
		}

		problems = append(problems, validateBody(i, r)...)
	}

	return problems
}

func validateBody(i int, r Rule) []Problem {
	var problems []Problem

	err := ruleValidate.Struct(r.Body)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			problems = append(problems, Problem{
				Index:   i,
				RuleID:  r.ID,
				Field:   fe.Field(),
				Message: describe(fe),
			})
		}
	} else if err != nil {
		problems = append(problems, Problem{Index: i, RuleID: r.ID, Message: err.Error()})
	}

	if a, ok := r.Body.(Access); ok && len(a.Allow) == 0 && len(a.Deny) == 0 {
		problems = append(problems, Problem{Index: i, RuleID: r.ID, Field: "allow", Message: "allow or deny must list at least one entry"})
	}

	return problems
}

// typedView decodes a pass-through rule of a known type into its variant so
// the variant's constraints can be checked.
func typedView(i int, id string, g Generic) (Body, *Problem) {
	raw, err := json.Marshal(g.Fields)
	if err != nil {
		return nil, &Problem{Index: i, RuleID: id, Message: err.Error()}
	}
	body, err := decodeBody(g.Type, raw)
	var terr *json.UnmarshalTypeError
	if errors.As(err, &terr) {
		return nil, &Problem{Index: i, RuleID: id, Field: terr.Field, Message: "must be " + terr.Type.String()}
	}
	if err != nil {
		return nil, &Problem{Index: i, RuleID: id, Message: err.Error()}
	}
	return body, nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_unless":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}

// AssignIDs fills in missing rule ids and returns the number assigned.
func AssignIDs(rules []Rule) int {
	n := 0
	for i := range rules {
		if rules[i].ID == "" {
			rules[i].ID = "rule-" + uuid.NewString()
			n++
		}
	}
	return n
}
