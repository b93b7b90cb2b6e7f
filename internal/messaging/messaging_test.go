package messaging

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type callLog struct {
	calls []string
}

type plainAdapter struct {
	log        *callLog
	failRemove bool
}

func (a *plainAdapter) Name() string { return "plain" }

func (a *plainAdapter) SendMessage(context.Context, EventRef, string, MessageType, bool) error {
	return nil
}

func (a *plainAdapter) UploadFile(context.Context, EventRef, []byte, string, string, bool) error {
	return nil
}

func (a *plainAdapter) AddReaction(_ context.Context, _ EventRef, _, _, reaction string) error {
	a.log.calls = append(a.log.calls, "+"+reaction)
	return nil
}

func (a *plainAdapter) RemoveReaction(_ context.Context, _ EventRef, _, _, reaction string) error {
	a.log.calls = append(a.log.calls, "-"+reaction)
	if a.failRemove {
		return errors.New("remove failed")
	}
	return nil
}

func (a *plainAdapter) FetchConversationHistory(context.Context, EventRef, string, string) ([]IncomingEvent, error) {
	return nil, nil
}

type batchAdapter struct {
	plainAdapter
	batches int
}

func (a *batchAdapter) UpdateReactions(context.Context, EventRef, string, string, []string, []string) error {
	a.batches++
	return nil
}

func TestUpdateReactionsFallsBackToSequentialCalls(t *testing.T) {
	a := &plainAdapter{log: &callLog{}}
	err := UpdateReactions(context.Background(), a, EventRef{}, "C1", "1.0", []string{"hourglass"}, []string{"eyes"})
	if err != nil {
		t.Fatalf("update reactions: %v", err)
	}
	if want := []string{"-hourglass", "+eyes"}; !reflect.DeepEqual(a.log.calls, want) {
		t.Fatalf("unexpected calls: want=%v got=%v", want, a.log.calls)
	}
}

func TestUpdateReactionsKeepsGoingAfterFailure(t *testing.T) {
	a := &plainAdapter{log: &callLog{}, failRemove: true}
	err := UpdateReactions(context.Background(), a, EventRef{}, "C1", "1.0", []string{"gear"}, []string{"red_circle"})
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if want := []string{"-gear", "+red_circle"}; !reflect.DeepEqual(a.log.calls, want) {
		t.Fatalf("unexpected calls: want=%v got=%v", want, a.log.calls)
	}
}

func TestUpdateReactionsUsesBatchReactor(t *testing.T) {
	a := &batchAdapter{plainAdapter: plainAdapter{log: &callLog{}}}
	if err := UpdateReactions(context.Background(), a, EventRef{}, "C1", "1.0", []string{"a"}, []string{"b"}); err != nil {
		t.Fatalf("update reactions: %v", err)
	}
	if a.batches != 1 || len(a.log.calls) != 0 {
		t.Fatalf("expected one batched call, batches=%d calls=%v", a.batches, a.log.calls)
	}
}

func TestIsThreadReply(t *testing.T) {
	root := IncomingEvent{EventRef: EventRef{ThreadID: "1.0", MessageID: "1.0"}}
	reply := IncomingEvent{EventRef: EventRef{ThreadID: "1.0", MessageID: "2.0"}}
	if root.IsThreadReply() || !reply.IsThreadReply() {
		t.Fatalf("unexpected thread reply detection: root=%v reply=%v", root.IsThreadReply(), reply.IsThreadReply())
	}
}
