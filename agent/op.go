package main

import (
	"errors"
	"fmt"

	"collabtext/annotation"
	"collabtext/session"
)

// UI op actions.
const (
	ActionRawInsert        = "raw_insert"
	ActionRawDelete        = "raw_delete"
	ActionAnnotate         = "annotate"
	ActionUpdateAnnotation = "update_annotation"
	ActionDeleteAnnotation = "delete_annotation"
)

var ErrUnknownOp = errors.New("unknown op action")

// Op is a raw user action sent by the browser UI. Positions are offsets in the visible text.
type Op struct {
	Action   string         `json:"action"`
	Index    int            `json:"index"`           // raw_insert, raw_delete
	Text     string         `json:"text,omitempty"`  // raw_insert
	Count    int            `json:"count,omitempty"` // raw_delete; 0 means 1
	From     int            `json:"from,omitempty"`  // annotate
	To       int            `json:"to,omitempty"`    // annotate
	ID       string         `json:"id,omitempty"`    // update_annotation, delete_annotation
	Data     map[string]any `json:"data,omitempty"`
	ClientID string         `json:"clientID"` // ID of the browser tab, echoed in the resulting view
}

// View is what the UI renders: the text and its decorations.
type View struct {
	Type        string            `json:"type"`
	Text        string            `json:"text"`
	Annotations []annotation.Span `json:"annotations"`
	ClientID    string            `json:"clientID,omitempty"`
	// Created is the id of an annotation added by the op that produced this view.
	Created string `json:"created,omitempty"`
	Error   string `json:"error,omitempty"`
}

// applyOp applies op to sess. For annotate it returns the new annotation id.
func applyOp(sess *session.Session, op Op) (string, error) {
	switch op.Action {
	case ActionRawInsert:
		return "", sess.Insert(op.Index, op.Text)
	case ActionRawDelete:
		n := op.Count
		if n == 0 {
			n = 1
		}
		return "", sess.Delete(op.Index, n)
	case ActionAnnotate:
		return sess.AddAnnotation(op.From, op.To, op.Data)
	case ActionUpdateAnnotation:
		return "", sess.UpdateAnnotation(op.ID, op.Data)
	case ActionDeleteAnnotation:
		return "", sess.DeleteAnnotation(op.ID)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOp, op.Action)
	}
}

func viewOf(sess *session.Session) View {
	spans := []annotation.Span(sess.Overlay())
	if spans == nil {
		spans = []annotation.Span{}
	}
	return View{Type: "view", Text: sess.Text(), Annotations: spans}
}
