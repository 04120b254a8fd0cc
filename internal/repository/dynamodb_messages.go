package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"guesthouse-sms-agent/internal/domain"
)

// skTimeLayout is fixed width so sort keys order lexicographically by time.
const skTimeLayout = "2006-01-02T15:04:05.000000000Z"

// phonePK returns the partition key holding a sender's conversation.
func phonePK(phone string) string {
	return "PHONE#" + phone
}

// msgSK orders messages by creation time; the id keeps keys unique.
func msgSK(ts time.Time, id string) string {
	return skPrefixMsg + ts.UTC().Format(skTimeLayout) + "#" + id
}

// Begin starts a unit of work committed with one TransactWriteItems call.
func (c *DynamoStore) Begin(_ context.Context) (UnitOfWork, error) {
	return newUnitOfWork(c, c.now), nil
}

func (c *DynamoStore) ListMessages(ctx context.Context, phone string, limit int) ([]domain.Message, error) {
	msgs, err := c.recentMessages(ctx, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: ListMessages: %w", err)
	}
	return msgs, nil
}

func (c *DynamoStore) recentMessages(ctx context.Context, phone string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     sAttr(phonePK(phone)),
			":prefix": sAttr(skPrefixMsg),
		},
		// Read newest first so LIMIT favors the most recent context.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
		ConsistentRead:   aws.Bool(true),
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	msgs := make([]domain.Message, 0, len(out.Items))
	for _, item := range out.Items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	// Reverse to chronological order before returning to prompt assembly.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (c *DynamoStore) commitBatch(ctx context.Context, b batch) error {
	inbound, err := messageItem(b.inbound)
	if err != nil {
		return err
	}
	items := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:           aws.String(c.tableName),
			Item:                inbound,
			ConditionExpression: aws.String(condNew),
		},
	}}
	if b.outbound != nil {
		outbound, err := messageItem(*b.outbound)
		if err != nil {
			return err
		}
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName:           aws.String(c.tableName),
			Item:                outbound,
			ConditionExpression: aws.String(condNew),
		}})
	}
	if b.followup != nil {
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName:           aws.String(c.tableName),
			Item:                followupItem(*b.followup),
			ConditionExpression: aws.String(condNew),
		}})
	}

	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

func messageItem(m domain.Message) (map[string]types.AttributeValue, error) {
	item := map[string]types.AttributeValue{
		"PK":           sAttr(phonePK(m.Phone)),
		"SK":           sAttr(msgSK(m.CreatedAt, m.ID)),
		"id":           sAttr(m.ID),
		"direction":    sAttr(string(m.Direction)),
		"phone":        sAttr(m.Phone),
		"text":         sAttr(m.Text),
		"createdAt":    nAttr(m.CreatedAt.UnixNano()),
		"endFlow":      bAttr(m.EndFlow),
		"guestState":   sAttr(m.GuestState),
		"handledBy":    sAttr(string(m.HandledBy)),
		"needFollowup": bAttr(m.NeedFollowup),
		"resolved":     bAttr(m.Resolved),
	}
	putOptStr(item, "intent", m.Intent)
	putOptStr(item, "flowType", m.FlowType)
	putOptStr(item, "replyTo", m.ReplyTo)
	if m.Confidence != nil {
		item["confidence"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%g", *m.Confidence)}
	}
	slots, err := encodeSlots(m.Slots)
	if err != nil {
		return nil, err
	}
	if s, ok := slots.(string); ok {
		item["slots"] = sAttr(s)
	}
	return item, nil
}

func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	var (
		m   domain.Message
		err error
	)
	if m.ID, err = strAttr(item, "id"); err != nil {
		return m, err
	}
	direction, err := strAttr(item, "direction")
	if err != nil {
		return m, err
	}
	m.Direction = domain.Direction(direction)
	if m.Phone, err = strAttr(item, "phone"); err != nil {
		return m, err
	}
	if m.Text, err = strAttr(item, "text"); err != nil {
		return m, err
	}
	if m.CreatedAt, err = timeAttr(item, "createdAt"); err != nil {
		return m, err
	}
	if m.Intent, err = optStrAttr(item, "intent"); err != nil {
		return m, err
	}
	if m.FlowType, err = optStrAttr(item, "flowType"); err != nil {
		return m, err
	}
	if m.ReplyTo, err = optStrAttr(item, "replyTo"); err != nil {
		return m, err
	}
	if m.Confidence, err = optFloatAttr(item, "confidence"); err != nil {
		return m, err
	}
	rawSlots, err := optStrAttr(item, "slots")
	if err != nil {
		return m, err
	}
	if rawSlots != nil {
		if m.Slots, err = decodeSlots(*rawSlots); err != nil {
			return m, err
		}
	}
	m.GuestState, _ = strAttr(item, "guestState") // allow empty
	handledBy, _ := strAttr(item, "handledBy")    // allow empty
	m.HandledBy = domain.HandledBy(handledBy)
	if m.EndFlow, err = boolAttr(item, "endFlow"); err != nil {
		return m, err
	}
	if m.NeedFollowup, err = boolAttr(item, "needFollowup"); err != nil {
		return m, err
	}
	if m.Resolved, err = boolAttr(item, "resolved"); err != nil {
		return m, err
	}
	return m, nil
}

// ---- follow-ups ----

// ListFollowups reads the follow-up partition and filters in memory; the queue
// is bounded by staff throughput and stays small.
func (c *DynamoStore) ListFollowups(ctx context.Context, filter FollowupFilter) ([]domain.FollowupEntry, error) {
	items, err := c.queryPartition(ctx, pkFollowup, skPrefixFollowup)
	if err != nil {
		return nil, fmt.Errorf("repository: ListFollowups query: %w", err)
	}
	out := make([]domain.FollowupEntry, 0, len(items))
	for _, item := range items {
		f, err := itemToFollowup(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListFollowups unmarshal: %w", err)
		}
		if filter.Status != "" && f.Status != filter.Status {
			continue
		}
		if filter.Reason != "" && f.Reason != filter.Reason {
			continue
		}
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit := followupLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *DynamoStore) GetFollowup(ctx context.Context, id string) (domain.FollowupEntry, error) {
	item, err := c.getItem(ctx, pkFollowup, skPrefixFollowup+id)
	if err != nil {
		return domain.FollowupEntry{}, fmt.Errorf("repository: GetFollowup: %w", err)
	}
	f, err := itemToFollowup(item)
	if err != nil {
		return domain.FollowupEntry{}, fmt.Errorf("repository: GetFollowup unmarshal: %w", err)
	}
	return f, nil
}

func (c *DynamoStore) UpdateFollowup(ctx context.Context, f domain.FollowupEntry) (domain.FollowupEntry, error) {
	existing, err := c.GetFollowup(ctx, f.ID)
	if err != nil {
		return domain.FollowupEntry{}, fmt.Errorf("repository: UpdateFollowup: %w", err)
	}
	existing.Status = f.Status
	existing.Memo = f.Memo
	existing.ResolvedAt = f.ResolvedAt
	existing.UpdatedAt = c.now().UTC()
	if err := c.putItem(ctx, followupItem(existing), condExists); err != nil {
		return domain.FollowupEntry{}, fmt.Errorf("repository: UpdateFollowup: %w", err)
	}
	return existing, nil
}

func followupItem(f domain.FollowupEntry) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":        sAttr(pkFollowup),
		"SK":        sAttr(skPrefixFollowup + f.ID),
		"id":        sAttr(f.ID),
		"messageId": sAttr(f.MessageID),
		"phone":     sAttr(f.Phone),
		"status":    sAttr(string(f.Status)),
		"reason":    sAttr(string(f.Reason)),
		"memo":      sAttr(f.Memo),
		"createdAt": nAttr(f.CreatedAt.UnixNano()),
		"updatedAt": nAttr(f.UpdatedAt.UnixNano()),
	}
	if f.ResolvedAt != nil {
		item["resolvedAt"] = nAttr(f.ResolvedAt.UnixNano())
	}
	return item
}

func itemToFollowup(item map[string]types.AttributeValue) (domain.FollowupEntry, error) {
	var (
		f   domain.FollowupEntry
		err error
	)
	if f.ID, err = strAttr(item, "id"); err != nil {
		return f, err
	}
	if f.MessageID, err = strAttr(item, "messageId"); err != nil {
		return f, err
	}
	if f.Phone, err = strAttr(item, "phone"); err != nil {
		return f, err
	}
	status, err := strAttr(item, "status")
	if err != nil {
		return f, err
	}
	reason, err := strAttr(item, "reason")
	if err != nil {
		return f, err
	}
	f.Status = domain.FollowupStatus(status)
	f.Reason = domain.FollowupReason(reason)
	f.Memo, _ = strAttr(item, "memo") // allow empty
	if f.CreatedAt, err = timeAttr(item, "createdAt"); err != nil {
		return f, err
	}
	if f.UpdatedAt, err = timeAttr(item, "updatedAt"); err != nil {
		return f, err
	}
	if _, ok := item["resolvedAt"]; ok {
		t, err := timeAttr(item, "resolvedAt")
		if err != nil {
			return f, err
		}
		f.ResolvedAt = &t
	}
	return f, nil
}
