package database

import (
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func TestConditionErr(t *testing.T) {
	msg := "The conditional request failed"
	err := conditionErr("update item", "chat_sessions", &types.ConditionalCheckFailedException{Message: &msg})
	if !errors.Is(err, ErrConditionFailed) {
		t.Fatalf("expected ErrConditionFailed, got %v", err)
	}

	other := errors.New("throttled")
	err = conditionErr("put item", "chat_messages", other)
	if errors.Is(err, ErrConditionFailed) {
		t.Fatalf("unexpected ErrConditionFailed for %v", err)
	}
	if !errors.Is(err, other) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestMergeValues(t *testing.T) {
	if got := mergeValues(nil, nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}

	merged := mergeValues(nil, map[string]types.AttributeValue{":a": AttrString("1")})
	merged = mergeValues(merged, map[string]types.AttributeValue{":b": AttrString("2")})
	if len(merged) != 2 {
		t.Fatalf("expected 2 values, got %d", len(merged))
	}
	b, ok := merged[":b"].(*types.AttributeValueMemberS)
	if !ok || b.Value != "2" {
		t.Fatalf("unexpected value %#v", merged[":b"])
	}
}

func TestMergeNames(t *testing.T) {
	merged := mergeNames(map[string]string{"#s": "status"}, map[string]string{"#o": "operatorId"})
	if merged["#s"] != "status" || merged["#o"] != "operatorId" {
		t.Fatalf("unexpected names %v", merged)
	}
}
