package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oremus-labs/ol-chat-relay/internal/chatdb"
)

// Directory is the chat database surface the directory tools need.
type Directory interface {
	FindUserByID(ctx context.Context, id int64) (*chatdb.User, error)
	FindUserByEmail(ctx context.Context, email string) (*chatdb.User, error)
	FindUserByUsername(ctx context.Context, username string) (*chatdb.User, error)
	SearchUsers(ctx context.Context, term string, excludeID int64) ([]chatdb.User, error)
	FindConversationsByUser(ctx context.Context, userID int64) ([]chatdb.Conversation, error)
	ConversationParticipants(ctx context.Context, conversationID int64) ([]chatdb.User, error)
	ConversationSummary(ctx context.Context, conversationID int64, limit int) (string, error)
	SearchMessages(ctx context.Context, conversationID int64, term string) ([]chatdb.Message, error)
	ConversationStatistics(ctx context.Context, conversationID int64) (*chatdb.Statistics, error)
	UserInConversation(ctx context.Context, conversationID, userID int64) (bool, error)
	InsertMessage(ctx context.Context, conversationID, userID int64, content string, replyToID *int64) (int64, error)
}

type findUserArgs struct {
	ID       *int64 `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type searchUsersArgs struct {
	Query     string `json:"query"`
	ExcludeID int64  `json:"exclude_id"`
}

type userArgs struct {
	UserID int64 `json:"user_id"`
}

type conversationArgs struct {
	ConversationID int64 `json:"conversation_id"`
	Limit          int   `json:"limit"`
}

type searchMessagesArgs struct {
	ConversationID int64  `json:"conversation_id"`
	Query          string `json:"query"`
}

type sendMessageArgs struct {
	ConversationID int64  `json:"conversation_id"`
	UserID         int64  `json:"user_id"`
	Content        string `json:"content"`
	ReplyToID      *int64 `json:"reply_to_id"`
}

func conversationParam() Param {
	return Param{Name: "conversation_id", Type: "integer", Description: "Conversation id"}
}

// DirectoryTools returns the tools backed by the chat database.
func DirectoryTools(dir Directory) []Tool {
	return []Tool{
		{
			Spec: Spec{
				Name:        "find_user",
				Description: "Look up a user by id, username or email",
				Parameters: []Param{
					{Name: "id", Type: "integer", Description: "User id", Optional: true},
					{Name: "username", Type: "string", Description: "Exact username", Optional: true},
					{Name: "email", Type: "string", Description: "Exact email address", Optional: true},
				},
			},
			Handler: Typed(func(ctx context.Context, a findUserArgs) (interface{}, error) {
				var (
					u   *chatdb.User
					err error
				)
				switch {
				case a.ID != nil:
					u, err = dir.FindUserByID(ctx, *a.ID)
				case a.Username != "":
					u, err = dir.FindUserByUsername(ctx, a.Username)
				case a.Email != "":
					u, err = dir.FindUserByEmail(ctx, a.Email)
				default:
					return nil, errors.New("one of id, username or email is required")
				}
				if errors.Is(err, chatdb.ErrNotFound) {
					return nil, errors.New("User not found")
				}
				return u, err
			}),
		},
		{
			Spec: Spec{
				Name:        "search_users",
				Description: "Search users whose username or email contains the query",
				Parameters: []Param{
					{Name: "query", Type: "string", Description: "Search text"},
					{Name: "exclude_id", Type: "integer", Description: "User id to leave out of the results", Optional: true},
				},
			},
			Handler: Typed(func(ctx context.Context, a searchUsersArgs) (interface{}, error) {
				if strings.TrimSpace(a.Query) == "" {
					return nil, errors.New("query must not be empty")
				}
				users, err := dir.SearchUsers(ctx, a.Query, a.ExcludeID)
				if err != nil {
					return nil, err
				}
				return nonNil(users), nil
			}),
		},
		{
			Spec: Spec{
				Name:        "list_user_conversations",
				Description: "List the conversations a user participates in",
				Parameters:  []Param{{Name: "user_id", Type: "integer", Description: "User id"}},
			},
			Handler: Typed(func(ctx context.Context, a userArgs) (interface{}, error) {
				convs, err := dir.FindConversationsByUser(ctx, a.UserID)
				if err != nil {
					return nil, err
				}
				return nonNil(convs), nil
			}),
		},
		{
			Spec: Spec{
				Name:        "get_conversation_participants",
				Description: "List the members of a conversation",
				Parameters:  []Param{conversationParam()},
			},
			Handler: Typed(func(ctx context.Context, a conversationArgs) (interface{}, error) {
				users, err := dir.ConversationParticipants(ctx, a.ConversationID)
				if err != nil {
					return nil, err
				}
				return nonNil(users), nil
			}),
		},
		{
			Spec: Spec{
				Name:        "get_conversation_summary",
				Description: "Summarise the most recent messages of a conversation",
				Parameters: []Param{
					conversationParam(),
					{Name: "limit", Type: "integer", Description: "Number of messages to include (default 20)", Optional: true},
				},
			},
			Handler: Typed(func(ctx context.Context, a conversationArgs) (interface{}, error) {
				limit := a.Limit
				if limit <= 0 {
					limit = 20
				}
				return dir.ConversationSummary(ctx, a.ConversationID, limit)
			}),
		},
		{
			Spec: Spec{
				Name:        "search_messages",
				Description: "Search the messages of a conversation for text",
				Parameters: []Param{
					conversationParam(),
					{Name: "query", Type: "string", Description: "Search text"},
				},
			},
			Handler: Typed(func(ctx context.Context, a searchMessagesArgs) (interface{}, error) {
				msgs, err := dir.SearchMessages(ctx, a.ConversationID, a.Query)
				if err != nil {
					return nil, err
				}
				return nonNil(msgs), nil
			}),
		},
		{
			Spec: Spec{
				Name:        "get_conversation_statistics",
				Description: "Count messages and participants of a conversation",
				Parameters:  []Param{conversationParam()},
			},
			Handler: Typed(func(ctx context.Context, a conversationArgs) (interface{}, error) {
				stats, err := dir.ConversationStatistics(ctx, a.ConversationID)
				if errors.Is(err, chatdb.ErrNotFound) {
					return nil, errors.New("Conversation not found")
				}
				return stats, err
			}),
		},
		{
			Spec: Spec{
				Name:        "send_message",
				Description: "Post a message to a conversation on behalf of a participant",
				Parameters: []Param{
					conversationParam(),
					{Name: "user_id", Type: "integer", Description: "Sender user id"},
					{Name: "content", Type: "string", Description: "Message text"},
					{Name: "reply_to_id", Type: "integer", Description: "Message id being replied to", Optional: true},
				},
			},
			Handler: Typed(func(ctx context.Context, a sendMessageArgs) (interface{}, error) {
				if strings.TrimSpace(a.Content) == "" {
					return nil, errors.New("content must not be empty")
				}
				member, err := dir.UserInConversation(ctx, a.ConversationID, a.UserID)
				if err != nil {
					return nil, err
				}
				if !member {
					return nil, fmt.Errorf("User %d is not a participant of conversation %d", a.UserID, a.ConversationID)
				}
				id, err := dir.InsertMessage(ctx, a.ConversationID, a.UserID, a.Content, a.ReplyToID)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"message_id": id}, nil
			}),
		},
	}
}

// nonNil keeps empty results rendering as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
