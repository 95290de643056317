package session

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"

	"chat-sync/internal/database"
	"chat-sync/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	ErrNotFound = errors.New("session repository: not found")
	ErrConflict = errors.New("session repository: conflict")
)

const messagesByIDIndex = "byMessageId"

type Repository interface {
	GetSession(ctx context.Context, sessionID string) (model.SessionItem, error)
	CreateSession(ctx context.Context, session model.SessionItem) error
	GetCustomerSession(ctx context.Context, customerID string) (model.CustomerSessionItem, error)
	// SetCustomerSession moves the customer's pointer only if it still names
	// expected ("" meaning no pointer yet). Otherwise it returns ErrConflict.
	SetCustomerSession(ctx context.Context, pointer model.CustomerSessionItem, expected string) error
	// ClaimSession assigns operatorID unless another operator holds the
	// session, in which case it returns ErrConflict.
	ClaimSession(ctx context.Context, sessionID, operatorID, updatedAt string) (model.SessionItem, error)
	UpdateSessionStatus(ctx context.Context, sessionID string, status model.SessionStatus, updatedAt string) (model.SessionItem, error)
	UpdateSessionActivity(ctx context.Context, sessionID, lastMessageAt, preview string) error
	ListOpenSessions(ctx context.Context) ([]model.SessionItem, error)
	CreateMessage(ctx context.Context, message model.MessageItem) error
	GetMessage(ctx context.Context, sessionID, messageID string) (model.MessageItem, error)
	// ListMessages returns up to limit messages older than beforeSortKey (or
	// the newest ones when it is empty) in ascending order.
	ListMessages(ctx context.Context, sessionID, beforeSortKey string, limit int) ([]model.MessageItem, error)
	// UpdateMessageReactions replaces the reaction set when the stored
	// version still equals expectedVersion and bumps the version. Otherwise it
	// returns ErrConflict.
	UpdateMessageReactions(ctx context.Context, sessionID, sortKey string, reactions []model.ReactionItem, expectedVersion int64) error
}

type DynamoRepository struct {
	db *database.Database
}

func NewDynamoRepository(db *database.Database) Repository {
	return &DynamoRepository{db: db}
}

func sessionKey(sessionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"sessionId": database.AttrString(sessionID),
	}
}

func (r *DynamoRepository) GetSession(ctx context.Context, sessionID string) (model.SessionItem, error) {
	var session model.SessionItem
	if err := r.db.Client.GetItem(ctx, model.SessionsTable, sessionKey(sessionID), &session); err != nil {
		if errors.Is(err, database.ErrItemNotFound) {
			return model.SessionItem{}, ErrNotFound
		}
		return model.SessionItem{}, err
	}
	return session, nil
}

func (r *DynamoRepository) CreateSession(ctx context.Context, session model.SessionItem) error {
	err := r.db.Client.PutItem(ctx, model.SessionsTable, session, &database.Condition{
		Expression: "attribute_not_exists(sessionId)",
	})
	if errors.Is(err, database.ErrConditionFailed) {
		return ErrConflict
	}
	return err
}

func (r *DynamoRepository) GetCustomerSession(ctx context.Context, customerID string) (model.CustomerSessionItem, error) {
	var pointer model.CustomerSessionItem
	err := r.db.Client.GetItem(
		ctx,
		model.CustomerSessionsTable,
		map[string]types.AttributeValue{
			"customerId": database.AttrString(customerID),
		},
		&pointer,
	)
	if err != nil {
		if errors.Is(err, database.ErrItemNotFound) {
			return model.CustomerSessionItem{}, ErrNotFound
		}
		return model.CustomerSessionItem{}, err
	}
	return pointer, nil
}

func (r *DynamoRepository) SetCustomerSession(ctx context.Context, pointer model.CustomerSessionItem, expected string) error {
	cond := &database.Condition{Expression: "attribute_not_exists(customerId)"}
	if expected != "" {
		cond = &database.Condition{
			Expression: "#current = :expected",
			Values: map[string]types.AttributeValue{
				":expected": database.AttrString(expected),
			},
			Names: map[string]string{
				"#current": "currentSessionId",
			},
		}
	}

	err := r.db.Client.PutItem(ctx, model.CustomerSessionsTable, pointer, cond)
	if errors.Is(err, database.ErrConditionFailed) {
		return ErrConflict
	}
	return err
}

func (r *DynamoRepository) ClaimSession(ctx context.Context, sessionID, operatorID, updatedAt string) (model.SessionItem, error) {
	var session model.SessionItem
	err := r.db.Client.UpdateItem(
		ctx,
		model.SessionsTable,
		sessionKey(sessionID),
		"SET #operatorId = :operatorId, #status = :open, #updatedAt = :updatedAt",
		map[string]types.AttributeValue{
			":operatorId": database.AttrString(operatorID),
			":open":       database.AttrString(string(model.SessionStatusOpen)),
			":updatedAt":  database.AttrString(updatedAt),
		},
		map[string]string{
			"#operatorId": "operatorId",
			"#status":     "status",
			"#updatedAt":  "updatedAt",
		},
		&database.Condition{
			Expression: "attribute_exists(sessionId) AND (attribute_not_exists(#operatorId) OR #operatorId = :operatorId)",
		},
		&session,
	)
	if errors.Is(err, database.ErrConditionFailed) {
		return model.SessionItem{}, ErrConflict
	}
	if err != nil {
		return model.SessionItem{}, err
	}
	return session, nil
}

func (r *DynamoRepository) UpdateSessionStatus(ctx context.Context, sessionID string, status model.SessionStatus, updatedAt string) (model.SessionItem, error) {
	var session model.SessionItem
	err := r.db.Client.UpdateItem(
		ctx,
		model.SessionsTable,
		sessionKey(sessionID),
		"SET #status = :status, #updatedAt = :updatedAt",
		map[string]types.AttributeValue{
			":status":    database.AttrString(string(status)),
			":updatedAt": database.AttrString(updatedAt),
		},
		map[string]string{
			"#status":    "status",
			"#updatedAt": "updatedAt",
		},
		&database.Condition{Expression: "attribute_exists(sessionId)"},
		&session,
	)
	if errors.Is(err, database.ErrConditionFailed) {
		return model.SessionItem{}, ErrNotFound
	}
	if err != nil {
		return model.SessionItem{}, err
	}
	return session, nil
}

func (r *DynamoRepository) UpdateSessionActivity(ctx context.Context, sessionID, lastMessageAt, preview string) error {
	err := r.db.Client.UpdateItem(
		ctx,
		model.SessionsTable,
		sessionKey(sessionID),
		"SET #lastMessageAt = :lastMessageAt, #updatedAt = :lastMessageAt, #preview = :preview",
		map[string]types.AttributeValue{
			":lastMessageAt": database.AttrString(lastMessageAt),
			":preview":       database.AttrString(preview),
		},
		map[string]string{
			"#lastMessageAt": "lastMessageAt",
			"#updatedAt":     "updatedAt",
			"#preview":       "lastMessagePreview",
		},
		&database.Condition{Expression: "attribute_exists(sessionId)"},
		nil,
	)
	if errors.Is(err, database.ErrConditionFailed) {
		return ErrNotFound
	}
	return err
}

func (r *DynamoRepository) ListOpenSessions(ctx context.Context) ([]model.SessionItem, error) {
	items, err := r.db.Client.ScanAll(
		ctx,
		model.SessionsTable,
		"#status <> :closed",
		map[string]types.AttributeValue{
			":closed": database.AttrString(string(model.SessionStatusClosed)),
		},
		map[string]string{
			"#status": "status",
		},
	)
	if err != nil {
		return nil, err
	}

	sessions := make([]model.SessionItem, 0, len(items))
	for _, item := range items {
		var session model.SessionItem
		if err := attributevalue.UnmarshalMap(item, &session); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (r *DynamoRepository) CreateMessage(ctx context.Context, message model.MessageItem) error {
	return r.db.Client.PutItem(ctx, model.MessagesTable, message, nil)
}

func (r *DynamoRepository) GetMessage(ctx context.Context, sessionID, messageID string) (model.MessageItem, error) {
	items, err := r.db.Client.QueryItems(
		ctx,
		model.MessagesTable,
		aws.String(messagesByIDIndex),
		"messageId = :messageId",
		map[string]types.AttributeValue{
			":messageId": database.AttrString(messageID),
		},
		nil,
		nil,
	)
	if err != nil && !isIndexNotFound(err) {
		return model.MessageItem{}, err
	}

	if err != nil {
		filter := aws.String("messageId = :messageId")
		items, err = r.db.Client.QueryItemsWithFilter(
			ctx,
			model.MessagesTable,
			nil,
			"sessionId = :sessionId",
			filter,
			map[string]types.AttributeValue{
				":sessionId": database.AttrString(sessionID),
				":messageId": database.AttrString(messageID),
			},
			nil,
		)
		if err != nil {
			return model.MessageItem{}, err
		}
	}

	for _, item := range items {
		var message model.MessageItem
		if err := attributevalue.UnmarshalMap(item, &message); err != nil {
			return model.MessageItem{}, err
		}
		if message.SessionID == sessionID {
			return message, nil
		}
	}
	return model.MessageItem{}, ErrNotFound
}

func (r *DynamoRepository) ListMessages(ctx context.Context, sessionID, beforeSortKey string, limit int) ([]model.MessageItem, error) {
	keyCond := "sessionId = :sessionId"
	values := map[string]types.AttributeValue{
		":sessionId": database.AttrString(sessionID),
	}
	if beforeSortKey != "" {
		keyCond += " AND sortKey < :before"
		values[":before"] = database.AttrString(beforeSortKey)
	}

	newestFirst := false
	page, err := r.db.Client.QueryPaginated(ctx, model.MessagesTable, nil, keyCond, values, nil, limit, nil, &newestFirst)
	if err != nil {
		return nil, err
	}

	messages := make([]model.MessageItem, 0, len(page.Items))
	for _, item := range page.Items {
		var message model.MessageItem
		if err := attributevalue.UnmarshalMap(item, &message); err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].SortKey < messages[j].SortKey
	})
	return messages, nil
}

func (r *DynamoRepository) UpdateMessageReactions(ctx context.Context, sessionID, sortKey string, reactions []model.ReactionItem, expectedVersion int64) error {
	av, err := attributevalue.Marshal(reactions)
	if err != nil {
		return err
	}
	if len(reactions) == 0 {
		av = &types.AttributeValueMemberL{Value: []types.AttributeValue{}}
	}

	cond := &database.Condition{
		Expression: "attribute_exists(sortKey) AND attribute_not_exists(#version)",
	}
	if expectedVersion > 0 {
		cond = &database.Condition{
			Expression: "#version = :expected",
			Values: map[string]types.AttributeValue{
				":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
			},
		}
	}

	err = r.db.Client.UpdateItem(
		ctx,
		model.MessagesTable,
		map[string]types.AttributeValue{
			"sessionId": database.AttrString(sessionID),
			"sortKey":   database.AttrString(sortKey),
		},
		"SET #reactions = :reactions, #version = :next",
		map[string]types.AttributeValue{
			":reactions": av,
			":next":      &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion+1, 10)},
		},
		map[string]string{
			"#reactions": "reactions",
			"#version":   "reactionsVersion",
		},
		cond,
		nil,
	)
	if errors.Is(err, database.ErrConditionFailed) {
		return ErrConflict
	}
	return err
}

func isIndexNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "index") && strings.Contains(msg, "not") && strings.Contains(msg, "found")
}
