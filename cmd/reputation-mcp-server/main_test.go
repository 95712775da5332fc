package main

import (
	"context"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"legit-bot/internal/storage"
)

func call(t *testing.T, s *ReputationMCPServer, username string) (string, bool) {
	t.Helper()
	res, err := s.CheckSeller(context.Background(), nil, &mcp.CallToolParamsFor[CheckSellerParams]{
		Arguments: CheckSellerParams{Username: username},
	})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	return res.Content[0].(*mcp.TextContent).Text, res.IsError
}

func TestCheckSeller(t *testing.T) {
	store := storage.NewMemoryStore()
	_, _, err := store.CreateSeller(context.Background(), storage.Seller{Username: "shop", City: "Wrocław"})
	require.NoError(t, err)
	s := NewReputationMCPServer(store)

	out, isErr := call(t, s, "@Shop")
	require.False(t, isErr)
	require.Contains(t, out, "@shop")
	require.Contains(t, out, "Wrocław")

	out, isErr = call(t, s, "ghost")
	require.False(t, isErr)
	require.Contains(t, out, "not found")

	_, isErr = call(t, s, "!")
	require.True(t, isErr)
}
