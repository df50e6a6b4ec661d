package rules

// Rule binds an event name to a list of actions. Event "*" matches every event.
type Rule struct {
	Event   string   `yaml:"event" json:"event"`
	Actions []Action `yaml:"actions" json:"actions"`
}

// Action is one command with template arguments. Arguments are evaluated
// as expressions with the variables event, value and scope available.
type Action struct {
	Command string   `yaml:"command" json:"command"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty"`
}

// Matches reports whether the rule fires for event.
func (r Rule) Matches(event string) bool {
	return r.Event == "*" || r.Event == event
}

// Clone returns a deep copy of rs.
func Clone(rs []Rule) []Rule {
	if rs == nil {
		return nil
	}
	out := make([]Rule, len(rs))
	for i, r := range rs {
		out[i] = Rule{Event: r.Event, Actions: make([]Action, len(r.Actions))}
		for j, a := range r.Actions {
			out[i].Actions[j] = Action{Command: a.Command, Args: append([]string(nil), a.Args...)}
		}
	}
	return out
}
