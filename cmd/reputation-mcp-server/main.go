package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"legit-bot/internal/conversation"
	"legit-bot/internal/logging"
	"legit-bot/internal/storage"
)

// CheckSellerParams are the arguments of check_seller.
type CheckSellerParams struct {
	Username string `json:"username" mcp:"Seller's Telegram username, with or without the leading @"`
}

// ReputationMCPServer exposes read-only seller lookups to MCP clients.
type ReputationMCPServer struct {
	store storage.Store
}

func NewReputationMCPServer(store storage.Store) *ReputationMCPServer {
	return &ReputationMCPServer{store: store}
}

func textResult(text string, isError bool) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		IsError: isError,
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// CheckSeller returns the public card of a seller.
func (s *ReputationMCPServer) CheckSeller(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[CheckSellerParams]) (*mcp.CallToolResultFor[any], error) {
	username, ok := conversation.NormalizeUsername(params.Arguments.Username)
	if !ok {
		return textResult(fmt.Sprintf("❌ Invalid username %q", params.Arguments.Username), true), nil
	}
	seller, err := s.store.GetSellerByUsername(ctx, username)
	if errors.Is(err, storage.ErrNotFound) {
		return textResult(fmt.Sprintf("❌ Seller @%s not found", username), false), nil
	}
	if err != nil {
		logging.Errorw("check_seller lookup failed", "username", username, "error", err)
		return textResult(fmt.Sprintf("❌ Lookup failed: %v", err), true), nil
	}
	return textResult(conversation.SellerCard(seller), false), nil
}

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}
	if err := logging.InitStderr(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logging.Sync()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logging.Fatalf("DATABASE_URL is required")
	}
	ctx := context.Background()
	// Read-only: the bot owns the schema.
	store, err := storage.NewPostgresStore(ctx, databaseURL, 2)
	if err != nil {
		logging.Fatalf("failed to connect to postgres: %v", err)
	}
	defer store.Close()

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "legit-bot-reputation-mcp",
		Version: "1.0.0",
	}, nil)

	rep := NewReputationMCPServer(store)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "check_seller",
		Description: "Returns rating, reports count and risk status of a seller",
	}, rep.CheckSeller)

	logging.Infof("starting reputation MCP server on stdin/stdout")
	if err := server.Run(ctx, mcp.NewStdioTransport()); err != nil {
		logging.Fatalf("reputation MCP server failed: %v", err)
	}
}
