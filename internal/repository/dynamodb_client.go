package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"guesthouse-sms-agent/internal/domain"
)

// Single-table layout. Catalog entities share one partition per kind; the
// tables are small and always read whole.
const (
	pkIntent    = "INTENT"
	pkTemplate  = "TEMPLATE"
	pkKnowledge = "KNOWLEDGE"
	pkFollowup  = "FOLLOWUP"

	skPrefixIntent    = "INTENT#"
	skPrefixTemplate  = "TPL#"
	skPrefixKnowledge = "KB#"
	skPrefixFollowup  = "FU#"
	skPrefixMsg       = "MSG#"

	condNew    = "attribute_not_exists(PK) AND attribute_not_exists(SK)"
	condExists = "attribute_exists(PK) AND attribute_exists(SK)"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// *dynamodb.Client satisfies it.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoStore keeps all records in one DynamoDB table.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

var _ Store = (*DynamoStore)(nil)

// NewDynamo creates a DynamoStore over the given table.
func NewDynamo(api dynamodbAPI, tableName string, opts ...Option) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	o := buildOptions(opts)
	return &DynamoStore{api: api, tableName: tableName, now: o.now}, nil
}

func (c *DynamoStore) Close() error { return nil }

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"PK": sAttr(pk), "SK": sAttr(sk)}
}

// queryPartition reads every item under pk whose sort key starts with prefix.
func (c *DynamoStore) queryPartition(ctx context.Context, pk, prefix string) ([]map[string]types.AttributeValue, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     sAttr(pk),
			":prefix": sAttr(prefix),
		},
	}
	var items []map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (c *DynamoStore) getItem(ctx context.Context, pk, sk string) (map[string]types.AttributeValue, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            itemKey(pk, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out == nil || len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	return out.Item, nil
}

func (c *DynamoStore) putItem(ctx context.Context, item map[string]types.AttributeValue, condition string) error {
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String(condition),
	})
	return translateConditionError(err, condition)
}

func (c *DynamoStore) deleteItem(ctx context.Context, pk, sk string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 itemKey(pk, sk),
		ConditionExpression: aws.String(condExists),
	})
	return translateConditionError(err, condExists)
}

// translateConditionError maps a failed condition onto ErrConflict for creates
// and ErrNotFound for updates and deletes.
func translateConditionError(err error, condition string) error {
	if err == nil {
		return nil
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		if condition == condNew {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

// ---- intents ----

func (c *DynamoStore) ListIntents(ctx context.Context) ([]domain.IntentDefinition, error) {
	items, err := c.queryPartition(ctx, pkIntent, skPrefixIntent)
	if err != nil {
		return nil, fmt.Errorf("repository: ListIntents query: %w", err)
	}
	out := make([]domain.IntentDefinition, 0, len(items))
	for _, item := range items {
		in, err := itemToIntent(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListIntents unmarshal: %w", err)
		}
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *DynamoStore) CreateIntent(ctx context.Context, in domain.IntentDefinition) (domain.IntentDefinition, error) {
	now := c.now().UTC()
	in.CreatedAt, in.UpdatedAt = now, now
	if err := c.putItem(ctx, intentItem(in), condNew); err != nil {
		return domain.IntentDefinition{}, fmt.Errorf("repository: CreateIntent: %w", err)
	}
	return in, nil
}

func (c *DynamoStore) UpdateIntent(ctx context.Context, in domain.IntentDefinition) (domain.IntentDefinition, error) {
	existing, err := c.getItem(ctx, pkIntent, skPrefixIntent+in.Name)
	if err != nil {
		return domain.IntentDefinition{}, fmt.Errorf("repository: UpdateIntent: %w", err)
	}
	created, err := timeAttr(existing, "createdAt")
	if err != nil {
		return domain.IntentDefinition{}, fmt.Errorf("repository: UpdateIntent: %w", err)
	}
	in.CreatedAt = created
	in.UpdatedAt = c.now().UTC()
	if err := c.putItem(ctx, intentItem(in), condExists); err != nil {
		return domain.IntentDefinition{}, fmt.Errorf("repository: UpdateIntent: %w", err)
	}
	return in, nil
}

func (c *DynamoStore) DeleteIntent(ctx context.Context, name string) error {
	if err := c.deleteItem(ctx, pkIntent, skPrefixIntent+name); err != nil {
		return fmt.Errorf("repository: DeleteIntent: %w", err)
	}
	return nil
}

func intentItem(in domain.IntentDefinition) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":          sAttr(pkIntent),
		"SK":          sAttr(skPrefixIntent + in.Name),
		"name":        sAttr(in.Name),
		"description": sAttr(in.Description),
		"isAction":    bAttr(in.IsAction),
		"isComplaint": bAttr(in.IsComplaint),
		"createdAt":   nAttr(in.CreatedAt.UnixNano()),
		"updatedAt":   nAttr(in.UpdatedAt.UnixNano()),
	}
}

func itemToIntent(item map[string]types.AttributeValue) (domain.IntentDefinition, error) {
	var (
		in  domain.IntentDefinition
		err error
	)
	if in.Name, err = strAttr(item, "name"); err != nil {
		return in, err
	}
	in.Description, _ = strAttr(item, "description") // allow empty
	if in.IsAction, err = boolAttr(item, "isAction"); err != nil {
		return in, err
	}
	if in.IsComplaint, err = boolAttr(item, "isComplaint"); err != nil {
		return in, err
	}
	if in.CreatedAt, err = timeAttr(item, "createdAt"); err != nil {
		return in, err
	}
	if in.UpdatedAt, err = timeAttr(item, "updatedAt"); err != nil {
		return in, err
	}
	return in, nil
}

// ---- reply templates ----

func (c *DynamoStore) ListTemplates(ctx context.Context, activeOnly bool) ([]domain.ReplyTemplate, error) {
	items, err := c.queryPartition(ctx, pkTemplate, skPrefixTemplate)
	if err != nil {
		return nil, fmt.Errorf("repository: ListTemplates query: %w", err)
	}
	out := make([]domain.ReplyTemplate, 0, len(items))
	for _, item := range items {
		t, err := itemToTemplate(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListTemplates unmarshal: %w", err)
		}
		if activeOnly && !t.Active {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Intent != b.Intent {
			return a.Intent < b.Intent
		}
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.Seq < b.Seq
	})
	return out, nil
}

func (c *DynamoStore) CreateTemplate(ctx context.Context, t domain.ReplyTemplate) (domain.ReplyTemplate, error) {
	now := c.now().UTC()
	t.ID = newUUID()
	t.CreatedAt, t.UpdatedAt = now, now
	t.Seq = now.UnixNano()
	if err := c.putItem(ctx, templateItem(t), condNew); err != nil {
		return domain.ReplyTemplate{}, fmt.Errorf("repository: CreateTemplate: %w", err)
	}
	return t, nil
}

func (c *DynamoStore) UpdateTemplate(ctx context.Context, t domain.ReplyTemplate) (domain.ReplyTemplate, error) {
	existing, err := c.getItem(ctx, pkTemplate, skPrefixTemplate+t.ID)
	if err != nil {
		return domain.ReplyTemplate{}, fmt.Errorf("repository: UpdateTemplate: %w", err)
	}
	prev, err := itemToTemplate(existing)
	if err != nil {
		return domain.ReplyTemplate{}, fmt.Errorf("repository: UpdateTemplate: %w", err)
	}
	t.CreatedAt, t.Seq = prev.CreatedAt, prev.Seq
	t.UpdatedAt = c.now().UTC()
	if err := c.putItem(ctx, templateItem(t), condExists); err != nil {
		return domain.ReplyTemplate{}, fmt.Errorf("repository: UpdateTemplate: %w", err)
	}
	return t, nil
}

func (c *DynamoStore) DeleteTemplate(ctx context.Context, id string) error {
	if err := c.deleteItem(ctx, pkTemplate, skPrefixTemplate+id); err != nil {
		return fmt.Errorf("repository: DeleteTemplate: %w", err)
	}
	return nil
}

func templateItem(t domain.ReplyTemplate) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        sAttr(pkTemplate),
		"SK":        sAttr(skPrefixTemplate + t.ID),
		"id":        sAttr(t.ID),
		"intent":    sAttr(t.Intent),
		"subIntent": sAttr(t.SubIntent),
		"text":      sAttr(t.Text),
		"sortOrder": nAttr(int64(t.SortOrder)),
		"active":    bAttr(t.Active),
		"seq":       nAttr(t.Seq),
		"createdAt": nAttr(t.CreatedAt.UnixNano()),
		"updatedAt": nAttr(t.UpdatedAt.UnixNano()),
	}
}

func itemToTemplate(item map[string]types.AttributeValue) (domain.ReplyTemplate, error) {
	var (
		t   domain.ReplyTemplate
		err error
	)
	if t.ID, err = strAttr(item, "id"); err != nil {
		return t, err
	}
	if t.Intent, err = strAttr(item, "intent"); err != nil {
		return t, err
	}
	if t.Text, err = strAttr(item, "text"); err != nil {
		return t, err
	}
	t.SubIntent, _ = strAttr(item, "subIntent") // allow empty
	order, err := int64Attr(item, "sortOrder")
	if err != nil {
		return t, err
	}
	t.SortOrder = int(order)
	if t.Active, err = boolAttr(item, "active"); err != nil {
		return t, err
	}
	if t.Seq, err = int64Attr(item, "seq"); err != nil {
		return t, err
	}
	if t.CreatedAt, err = timeAttr(item, "createdAt"); err != nil {
		return t, err
	}
	if t.UpdatedAt, err = timeAttr(item, "updatedAt"); err != nil {
		return t, err
	}
	return t, nil
}

// ---- knowledge ----

func (c *DynamoStore) ListKnowledge(ctx context.Context, categories []string, limit int) ([]domain.KnowledgeEntry, error) {
	items, err := c.queryPartition(ctx, pkKnowledge, skPrefixKnowledge)
	if err != nil {
		return nil, fmt.Errorf("repository: ListKnowledge query: %w", err)
	}
	allowed := make(map[string]struct{}, len(categories))
	for _, cat := range categories {
		allowed[cat] = struct{}{}
	}

	out := make([]domain.KnowledgeEntry, 0, len(items))
	for _, item := range items {
		e, err := itemToKnowledge(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListKnowledge unmarshal: %w", err)
		}
		if len(allowed) > 0 {
			if _, ok := allowed[e.Category]; !ok {
				continue
			}
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *DynamoStore) CreateKnowledge(ctx context.Context, e domain.KnowledgeEntry) (domain.KnowledgeEntry, error) {
	now := c.now().UTC()
	e.ID = newUUID()
	e.CreatedAt, e.UpdatedAt = now, now
	if err := c.putItem(ctx, knowledgeItem(e), condNew); err != nil {
		return domain.KnowledgeEntry{}, fmt.Errorf("repository: CreateKnowledge: %w", err)
	}
	return e, nil
}

func (c *DynamoStore) UpdateKnowledge(ctx context.Context, e domain.KnowledgeEntry) (domain.KnowledgeEntry, error) {
	existing, err := c.getItem(ctx, pkKnowledge, skPrefixKnowledge+e.ID)
	if err != nil {
		return domain.KnowledgeEntry{}, fmt.Errorf("repository: UpdateKnowledge: %w", err)
	}
	created, err := timeAttr(existing, "createdAt")
	if err != nil {
		return domain.KnowledgeEntry{}, fmt.Errorf("repository: UpdateKnowledge: %w", err)
	}
	e.CreatedAt = created
	e.UpdatedAt = c.now().UTC()
	if err := c.putItem(ctx, knowledgeItem(e), condExists); err != nil {
		return domain.KnowledgeEntry{}, fmt.Errorf("repository: UpdateKnowledge: %w", err)
	}
	return e, nil
}

func (c *DynamoStore) DeleteKnowledge(ctx context.Context, id string) error {
	if err := c.deleteItem(ctx, pkKnowledge, skPrefixKnowledge+id); err != nil {
		return fmt.Errorf("repository: DeleteKnowledge: %w", err)
	}
	return nil
}

func knowledgeItem(e domain.KnowledgeEntry) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        sAttr(pkKnowledge),
		"SK":        sAttr(skPrefixKnowledge + e.ID),
		"id":        sAttr(e.ID),
		"title":     sAttr(e.Title),
		"category":  sAttr(e.Category),
		"content":   sAttr(e.Content),
		"createdAt": nAttr(e.CreatedAt.UnixNano()),
		"updatedAt": nAttr(e.UpdatedAt.UnixNano()),
	}
}

func itemToKnowledge(item map[string]types.AttributeValue) (domain.KnowledgeEntry, error) {
	var (
		e   domain.KnowledgeEntry
		err error
	)
	if e.ID, err = strAttr(item, "id"); err != nil {
		return e, err
	}
	if e.Title, err = strAttr(item, "title"); err != nil {
		return e, err
	}
	if e.Category, err = strAttr(item, "category"); err != nil {
		return e, err
	}
	if e.Content, err = strAttr(item, "content"); err != nil {
		return e, err
	}
	if e.CreatedAt, err = timeAttr(item, "createdAt"); err != nil {
		return e, err
	}
	if e.UpdatedAt, err = timeAttr(item, "updatedAt"); err != nil {
		return e, err
	}
	return e, nil
}
