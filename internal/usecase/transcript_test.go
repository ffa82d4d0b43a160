package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"support-inbox-ai/internal/domain"
)

func TestBuildTranscript(t *testing.T) {
	store := &mockStore{messages: loginConversation()}

	text, err := BuildTranscript(context.Background(), store, "c1", 0)
	require.NoError(t, err)
	require.Equal(t, "CUSTOMER: I can't log in\nAGENT: Can you check your email?", text)
	require.Equal(t, defaultMessageWindow, store.lastLimit)
}

func TestBuildTranscript_EmptyConversation(t *testing.T) {
	text, err := BuildTranscript(context.Background(), &mockStore{}, "c1", 10)
	require.NoError(t, err)
	require.Empty(t, text)
}

func TestBuildTranscript_KeepsLatestWindow(t *testing.T) {
	var msgs []domain.Message
	for i := 0; i < 5; i++ {
		msgs = append(msgs, domain.Message{SenderRole: domain.SenderCustomer, Content: fmt.Sprintf("m%d", i)})
	}
	store := &mockStore{messages: msgs}

	text, err := BuildTranscript(context.Background(), store, "c1", 2)
	require.NoError(t, err)
	require.Equal(t, "CUSTOMER: m3\nCUSTOMER: m4", text)
	require.Equal(t, 2, store.lastLimit)
}

func TestBuildTranscript_LoadError(t *testing.T) {
	loadErr := errors.New("throttled")
	_, err := BuildTranscript(context.Background(), &mockStore{loadErr: loadErr}, "c1", 5)
	require.ErrorIs(t, err, loadErr)
}
