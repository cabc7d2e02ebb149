package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client the store calls.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

type DynamoOptions struct {
	Region string
	// Endpoint points the client at DynamoDB Local; static "local"
	// credentials are used when it is set.
	Endpoint string
	Tables   Tables
}

type DynamoStore struct {
	client DynamoAPI
	tables Tables
}

var _ Store = (*DynamoStore)(nil)

func NewDynamoStore(ctx context.Context, opts DynamoOptions) (*DynamoStore, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.Endpoint != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return NewDynamoStoreWithClient(client, opts.Tables), nil
}

func NewDynamoStoreWithClient(client DynamoAPI, tables Tables) *DynamoStore {
	return &DynamoStore{client: client, tables: tables}
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *DynamoStore) Close() error {
	return nil
}

// Items as they are laid out in the tables.

type userItem struct {
	Email     string  `dynamodbav:"email"`
	UserID    string  `dynamodbav:"userId"`
	FirstName string  `dynamodbav:"firstName"`
	LastName  string  `dynamodbav:"lastName"`
	Password  *string `dynamodbav:"password"` // NULL for SSO accounts
	Role      string  `dynamodbav:"role,omitempty"`
	AuthType  string  `dynamodbav:"authType,omitempty"`
	CreatedAt string  `dynamodbav:"createdAt,omitempty"`
}

type chatItem struct {
	UserID    string `dynamodbav:"userId"`
	ChatID    string `dynamodbav:"chatId"`
	Title     string `dynamodbav:"title"`
	CreatedAt string `dynamodbav:"createdAt"`
	UpdatedAt string `dynamodbav:"updatedAt"`
}

type messageItem struct {
	ChatID    string `dynamodbav:"chatId"`
	Timestamp string `dynamodbav:"timestamp"`
	Role      string `dynamodbav:"role"`
	Content   string `dynamodbav:"content"`
}

type ssoConfigItem struct {
	ID         string `dynamodbav:"id"`
	Issuer     string `dynamodbav:"issuer"`
	EntryPoint string `dynamodbav:"entryPoint"`
	Cert       string `dynamodbav:"cert"`
	IsActive   bool   `dynamodbav:"isActive"`
	UpdatedAt  string `dynamodbav:"updatedAt"`
}

type secretItem struct {
	Name      string `dynamodbav:"name"`
	Value     string `dynamodbav:"value"`
	UpdatedAt string `dynamodbav:"updatedAt"`
}

func newUserItem(u *User) userItem {
	item := userItem{
		Email:     u.Email,
		UserID:    u.UserID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
		AuthType:  u.AuthType,
		CreatedAt: formatTime(u.CreatedAt),
	}
	if u.PasswordHash != "" {
		item.Password = aws.String(u.PasswordHash)
	}
	return item
}

func (i userItem) user() User {
	u := User{
		Email:     i.Email,
		UserID:    i.UserID,
		FirstName: i.FirstName,
		LastName:  i.LastName,
		Role:      i.Role,
		AuthType:  i.AuthType,
		CreatedAt: parseTime(i.CreatedAt),
	}
	if i.Password != nil {
		u.PasswordHash = *i.Password
	}
	return u
}

func (i chatItem) chat() ChatSession {
	return ChatSession{
		UserID:    i.UserID,
		ChatID:    i.ChatID,
		Title:     i.Title,
		CreatedAt: parseTime(i.CreatedAt),
		UpdatedAt: parseTime(i.UpdatedAt),
	}
}

func (i ssoConfigItem) config() SSOConfig {
	return SSOConfig{
		ID:         i.ID,
		Issuer:     i.Issuer,
		EntryPoint: i.EntryPoint,
		Cert:       i.Cert,
		IsActive:   i.IsActive,
		UpdatedAt:  parseTime(i.UpdatedAt),
	}
}

func stringKey(attrs ...string) map[string]types.AttributeValue {
	key := make(map[string]types.AttributeValue, len(attrs)/2)
	for i := 0; i+1 < len(attrs); i += 2 {
		key[attrs[i]] = &types.AttributeValueMemberS{Value: attrs[i+1]}
	}
	return key
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// Generic item helpers

func (s *DynamoStore) getItem(ctx context.Context, table string, key map[string]types.AttributeValue, out any) (bool, error) {
	res, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key:       key,
	})
	if err != nil {
		return false, fmt.Errorf("failed to get item from %s: %w", table, err)
	}
	if res.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal item from %s: %w", table, err)
	}
	return true, nil
}

func (s *DynamoStore) putItem(ctx context.Context, table string, in any) error {
	item, err := attributevalue.MarshalMap(in)
	if err != nil {
		return fmt.Errorf("failed to marshal item for %s: %w", table, err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("failed to put item into %s: %w", table, err)
	}
	return nil
}

func (s *DynamoStore) deleteItem(ctx context.Context, table string, key map[string]types.AttributeValue) error {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(table),
		Key:       key,
	}); err != nil {
		return fmt.Errorf("failed to delete item from %s: %w", table, err)
	}
	return nil
}

// updateExisting applies update to the item at key, failing with ErrNotFound
// instead of creating the item when keyAttr is absent. The new item is
// unmarshalled into out when out is non-nil.
func (s *DynamoStore) updateExisting(ctx context.Context, table string, key map[string]types.AttributeValue, keyAttr string, update expression.UpdateBuilder, out any) error {
	expr, err := expression.NewBuilder().
		WithUpdate(update).
		WithCondition(expression.AttributeExists(expression.Name(keyAttr))).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build update expression for %s: %w", table, err)
	}

	res, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(table),
		Key:                       key,
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update item in %s: %w", table, err)
	}
	if out != nil {
		if err := attributevalue.UnmarshalMap(res.Attributes, out); err != nil {
			return fmt.Errorf("failed to unmarshal updated item from %s: %w", table, err)
		}
	}
	return nil
}

func (s *DynamoStore) query(ctx context.Context, table string, keyCond expression.KeyConditionBuilder, out any) error {
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return fmt.Errorf("failed to build key condition for %s: %w", table, err)
	}

	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                 aws.String(table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to query %s: %w", table, err)
		}
		items = append(items, page.Items...)
	}
	if err := attributevalue.UnmarshalListOfMaps(items, out); err != nil {
		return fmt.Errorf("failed to unmarshal items from %s: %w", table, err)
	}
	return nil
}

// scan reads the whole table, optionally filtered.
func (s *DynamoStore) scan(ctx context.Context, table string, filter *expression.ConditionBuilder, out any) error {
	input := &dynamodb.ScanInput{TableName: aws.String(table)}
	if filter != nil {
		expr, err := expression.NewBuilder().WithFilter(*filter).Build()
		if err != nil {
			return fmt.Errorf("failed to build filter for %s: %w", table, err)
		}
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to scan %s: %w", table, err)
		}
		items = append(items, page.Items...)
	}
	if err := attributevalue.UnmarshalListOfMaps(items, out); err != nil {
		return fmt.Errorf("failed to unmarshal items from %s: %w", table, err)
	}
	return nil
}

// User methods
func (s *DynamoStore) GetUser(ctx context.Context, email string) (*User, error) {
	var item userItem
	found, err := s.getItem(ctx, s.tables.Users, stringKey("email", email), &item)
	if err != nil || !found {
		return nil, err
	}
	user := item.user()
	return &user, nil
}

func (s *DynamoStore) PutUser(ctx context.Context, user *User) error {
	return s.putItem(ctx, s.tables.Users, newUserItem(user))
}

func (s *DynamoStore) ListUsers(ctx context.Context) ([]User, error) {
	var items []userItem
	if err := s.scan(ctx, s.tables.Users, nil, &items); err != nil {
		return nil, err
	}
	users := make([]User, 0, len(items))
	for _, item := range items {
		users = append(users, item.user())
	}
	return users, nil
}

func (s *DynamoStore) DeleteUser(ctx context.Context, email string) error {
	return s.deleteItem(ctx, s.tables.Users, stringKey("email", email))
}

func (s *DynamoStore) UpdateUserPassword(ctx context.Context, email, passwordHash string) error {
	update := expression.Set(expression.Name("password"), expression.Value(passwordHash))
	return s.updateExisting(ctx, s.tables.Users, stringKey("email", email), "email", update, nil)
}

func (s *DynamoStore) UpdateUserName(ctx context.Context, email, firstName, lastName string) (*User, error) {
	update := expression.Set(expression.Name("firstName"), expression.Value(firstName)).
		Set(expression.Name("lastName"), expression.Value(lastName))
	var item userItem
	if err := s.updateExisting(ctx, s.tables.Users, stringKey("email", email), "email", update, &item); err != nil {
		return nil, err
	}
	user := item.user()
	return &user, nil
}

// Chat methods
func (s *DynamoStore) PutChat(ctx context.Context, chat *ChatSession) error {
	return s.putItem(ctx, s.tables.Chats, chatItem{
		UserID:    chat.UserID,
		ChatID:    chat.ChatID,
		Title:     chat.Title,
		CreatedAt: formatTime(chat.CreatedAt),
		UpdatedAt: formatTime(chat.UpdatedAt),
	})
}

func (s *DynamoStore) GetChat(ctx context.Context, userID, chatID string) (*ChatSession, error) {
	var item chatItem
	found, err := s.getItem(ctx, s.tables.Chats, stringKey("userId", userID, "chatId", chatID), &item)
	if err != nil || !found {
		return nil, err
	}
	chat := item.chat()
	return &chat, nil
}

func (s *DynamoStore) ListChats(ctx context.Context, userID string) ([]ChatSession, error) {
	var items []chatItem
	keyCond := expression.Key("userId").Equal(expression.Value(userID))
	if err := s.query(ctx, s.tables.Chats, keyCond, &items); err != nil {
		return nil, err
	}
	chats := make([]ChatSession, 0, len(items))
	for _, item := range items {
		chats = append(chats, item.chat())
	}
	// No index on updatedAt, so order in memory.
	sortChatsByUpdated(chats)
	return chats, nil
}

func (s *DynamoStore) UpdateChatTitle(ctx context.Context, userID, chatID, title string, updatedAt time.Time) (*ChatSession, error) {
	update := expression.Set(expression.Name("title"), expression.Value(title)).
		Set(expression.Name("updatedAt"), expression.Value(formatTime(updatedAt)))
	var item chatItem
	if err := s.updateExisting(ctx, s.tables.Chats, stringKey("userId", userID, "chatId", chatID), "chatId", update, &item); err != nil {
		return nil, err
	}
	chat := item.chat()
	return &chat, nil
}

// Message methods
func (s *DynamoStore) PutMessage(ctx context.Context, msg *ChatMessage) error {
	return s.putItem(ctx, s.tables.Messages, messageItem{
		ChatID:    msg.ChatID,
		Timestamp: formatTime(msg.Timestamp),
		Role:      msg.Role,
		Content:   msg.Content,
	})
}

func (s *DynamoStore) ListMessages(ctx context.Context, chatID string) ([]ChatMessage, error) {
	var items []messageItem
	keyCond := expression.Key("chatId").Equal(expression.Value(chatID))
	if err := s.query(ctx, s.tables.Messages, keyCond, &items); err != nil {
		return nil, err
	}
	msgs := make([]ChatMessage, 0, len(items))
	for _, item := range items {
		msgs = append(msgs, ChatMessage{
			ChatID:    item.ChatID,
			Timestamp: parseTime(item.Timestamp),
			Role:      item.Role,
			Content:   item.Content,
		})
	}
	sortMessagesByTimestamp(msgs)
	return msgs, nil
}

// SSO config methods
func (s *DynamoStore) PutSSOConfig(ctx context.Context, cfg *SSOConfig) error {
	return s.putItem(ctx, s.tables.SSOConfig, ssoConfigItem{
		ID:         cfg.ID,
		Issuer:     cfg.Issuer,
		EntryPoint: cfg.EntryPoint,
		Cert:       cfg.Cert,
		IsActive:   cfg.IsActive,
		UpdatedAt:  formatTime(cfg.UpdatedAt),
	})
}

func (s *DynamoStore) GetSSOConfig(ctx context.Context, id string) (*SSOConfig, error) {
	var item ssoConfigItem
	found, err := s.getItem(ctx, s.tables.SSOConfig, stringKey("id", id), &item)
	if err != nil || !found {
		return nil, err
	}
	cfg := item.config()
	return &cfg, nil
}

func (s *DynamoStore) ListSSOConfigs(ctx context.Context) ([]SSOConfig, error) {
	return s.scanSSOConfigs(ctx, nil)
}

func (s *DynamoStore) GetActiveSSOConfig(ctx context.Context) (*SSOConfig, error) {
	filter := expression.Name("isActive").Equal(expression.Value(true))
	configs, err := s.scanSSOConfigs(ctx, &filter)
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, nil
	}
	if len(configs) > 1 {
		log.Printf("Warning: %d active SSO configurations found, using %s", len(configs), configs[0].ID)
	}
	return &configs[0], nil
}

func (s *DynamoStore) scanSSOConfigs(ctx context.Context, filter *expression.ConditionBuilder) ([]SSOConfig, error) {
	var items []ssoConfigItem
	if err := s.scan(ctx, s.tables.SSOConfig, filter, &items); err != nil {
		return nil, err
	}
	configs := make([]SSOConfig, 0, len(items))
	for _, item := range items {
		configs = append(configs, item.config())
	}
	return configs, nil
}

func (s *DynamoStore) SetSSOConfigActive(ctx context.Context, id string, active bool) error {
	update := expression.Set(expression.Name("isActive"), expression.Value(active))
	return s.updateExisting(ctx, s.tables.SSOConfig, stringKey("id", id), "id", update, nil)
}

func (s *DynamoStore) DeleteSSOConfig(ctx context.Context, id string) error {
	return s.deleteItem(ctx, s.tables.SSOConfig, stringKey("id", id))
}

// Secret methods
func (s *DynamoStore) PutSecret(ctx context.Context, secret *Secret) error {
	return s.putItem(ctx, s.tables.Secrets, secretItem{
		Name:      secret.Name,
		Value:     secret.Value,
		UpdatedAt: formatTime(secret.UpdatedAt),
	})
}

func (s *DynamoStore) ListSecrets(ctx context.Context) ([]Secret, error) {
	var items []secretItem
	if err := s.scan(ctx, s.tables.Secrets, nil, &items); err != nil {
		return nil, err
	}
	secrets := make([]Secret, 0, len(items))
	for _, item := range items {
		secrets = append(secrets, Secret{Name: item.Name, Value: item.Value, UpdatedAt: parseTime(item.UpdatedAt)})
	}
	sortSecretsByName(secrets)
	return secrets, nil
}

func (s *DynamoStore) DeleteSecret(ctx context.Context, name string) error {
	return s.deleteItem(ctx, s.tables.Secrets, stringKey("name", name))
}

// Table management

type tableSpec struct {
	name     string
	hashKey  string
	rangeKey string
}

func (s *DynamoStore) tableSpecs() []tableSpec {
	return []tableSpec{
		{name: s.tables.Users, hashKey: "email"},
		{name: s.tables.Chats, hashKey: "userId", rangeKey: "chatId"},
		{name: s.tables.Messages, hashKey: "chatId", rangeKey: "timestamp"},
		{name: s.tables.SSOConfig, hashKey: "id"},
		{name: s.tables.Secrets, hashKey: "name"},
	}
}

// CreateTables creates every table that does not exist yet.
func (s *DynamoStore) CreateTables(ctx context.Context) error {
	for _, t := range s.tableSpecs() {
		keySchema := []types.KeySchemaElement{
			{AttributeName: aws.String(t.hashKey), KeyType: types.KeyTypeHash},
		}
		attrs := []types.AttributeDefinition{
			{AttributeName: aws.String(t.hashKey), AttributeType: types.ScalarAttributeTypeS},
		}
		if t.rangeKey != "" {
			keySchema = append(keySchema, types.KeySchemaElement{AttributeName: aws.String(t.rangeKey), KeyType: types.KeyTypeRange})
			attrs = append(attrs, types.AttributeDefinition{AttributeName: aws.String(t.rangeKey), AttributeType: types.ScalarAttributeTypeS})
		}

		_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName:            aws.String(t.name),
			KeySchema:            keySchema,
			AttributeDefinitions: attrs,
			ProvisionedThroughput: &types.ProvisionedThroughput{
				ReadCapacityUnits:  aws.Int64(5),
				WriteCapacityUnits: aws.Int64(5),
			},
		})
		if err != nil {
			var inUse *types.ResourceInUseException
			if errors.As(err, &inUse) {
				log.Printf("Table %s already exists.", t.name)
				continue
			}
			return fmt.Errorf("failed to create table %s: %w", t.name, err)
		}
		log.Printf("Table %s created successfully.", t.name)
	}
	return nil
}
