package main

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

func TestNonEmptySkipsBlankNames(t *testing.T) {
	got := nonEmpty("tasks", "", "users")
	if !reflect.DeepEqual(got, []string{"tasks", "users"}) {
		t.Fatalf("unexpected names %v", got)
	}
}

func TestAlreadyExists(t *testing.T) {
	exists := &azcore.ResponseError{ErrorCode: string(aztables.TableAlreadyExists)}
	if !alreadyExists(fmt.Errorf("create: %w", exists), string(aztables.TableAlreadyExists)) {
		t.Fatalf("expected wrapped response error to match")
	}
	if alreadyExists(exists, "QueueAlreadyExists") {
		t.Fatalf("expected different code to be reported")
	}
	if alreadyExists(errors.New("dial tcp"), "QueueAlreadyExists") {
		t.Fatalf("expected plain error to be reported")
	}
}
