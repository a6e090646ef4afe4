package models

// Clone returns a deep copy of the run. Handed out by the store so callers
// can never mutate the live projection.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	out := *r
	out.Nodes = make(map[string]*Node, len(r.Nodes))
	for id, n := range r.Nodes {
		out.Nodes[id] = n.Clone()
	}
	out.Edges = make(map[string]*Edge, len(r.Edges))
	for id, e := range r.Edges {
		c := *e
		out.Edges[id] = &c
	}
	out.Artifacts = make(map[string]*Artifact, len(r.Artifacts))
	for id, a := range r.Artifacts {
		c := *a
		out.Artifacts[id] = &c
	}
	out.Approvals = make(map[string]*Approval, len(r.Approvals))
	for id, ap := range r.Approvals {
		out.Approvals[id] = ap.Clone()
	}
	return &out
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := *n
	if n.Session.ResetCommands != nil {
		out.Session.ResetCommands = append([]string(nil), n.Session.ResetCommands...)
	}
	if n.Todos != nil {
		out.Todos = append([]TodoItem(nil), n.Todos...)
	}
	return &out
}

// Clone returns a deep copy of the approval.
func (a *Approval) Clone() *Approval {
	if a == nil {
		return nil
	}
	out := *a
	out.Tool = a.Tool.Clone()
	return &out
}

// Clone returns a deep copy of the tool call.
func (t ToolCall) Clone() ToolCall {
	out := t
	if t.Args != nil {
		out.Args = cloneArgs(t.Args)
	}
	return out
}

// Clone returns a deep copy of the envelope.
func (e Envelope) Clone() Envelope {
	out := e
	if e.Payload.Structured != nil {
		out.Payload.Structured = cloneArgs(e.Payload.Structured)
	}
	if e.Payload.Artifacts != nil {
		out.Payload.Artifacts = append([]ArtifactRef(nil), e.Payload.Artifacts...)
	}
	if e.Payload.Status != nil {
		s := *e.Payload.Status
		out.Payload.Status = &s
	}
	if e.Payload.Response != nil {
		r := *e.Payload.Response
		out.Payload.Response = &r
	}
	return out
}

// cloneArgs deep-copies a JSON-shaped map (maps, slices and scalars only).
func cloneArgs(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneArgs(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
