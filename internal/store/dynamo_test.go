package store

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo returns canned responses and records the requests it receives.
type fakeDynamo struct {
	getItem    map[string]types.AttributeValue
	queryItems []map[string]types.AttributeValue
	scanItems  []map[string]types.AttributeValue
	updateErr  error
	createErr  map[string]error

	puts    []*dynamodb.PutItemInput
	updates []*dynamodb.UpdateItemInput
	queries []*dynamodb.QueryInput
	scans   []*dynamodb.ScanInput
	creates []*dynamodb.CreateTableInput
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.getItem}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.puts = append(f.puts, in)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updates = append(f.updates, in)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &dynamodb.UpdateItemOutput{Attributes: f.getItem}, nil
}

func (f *fakeDynamo) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queries = append(f.queries, in)
	return &dynamodb.QueryOutput{Items: f.queryItems}, nil
}

func (f *fakeDynamo) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.scans = append(f.scans, in)
	return &dynamodb.ScanOutput{Items: f.scanItems}, nil
}

func (f *fakeDynamo) CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.creates = append(f.creates, in)
	if err := f.createErr[aws.ToString(in.TableName)]; err != nil {
		return nil, err
	}
	return &dynamodb.CreateTableOutput{}, nil
}

func str(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }

func TestDynamoGetUser(t *testing.T) {
	ctx := context.Background()
	fake := &fakeDynamo{}
	st := NewDynamoStoreWithClient(fake, DefaultTables())

	got, err := st.GetUser(ctx, "missing@example.com")
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil for missing item, got %v, %v", got, err)
	}

	fake.getItem = map[string]types.AttributeValue{
		"email":     str("bob@example.com"),
		"userId":    str("u-2"),
		"firstName": str("Bob"),
		"lastName":  str("Ray"),
		"password":  &types.AttributeValueMemberNULL{Value: true},
		"role":      str("admin"),
		"authType":  str("sso"),
		"createdAt": str("2025-01-02T03:04:05.000Z"),
	}
	got, err = st.GetUser(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.PasswordHash != "" || !got.IsSSO() || got.Role != RoleAdmin || got.CreatedAt.IsZero() {
		t.Errorf("unexpected user: %+v", got)
	}
}

func TestDynamoPutSSOUserWritesNullPassword(t *testing.T) {
	fake := &fakeDynamo{}
	st := NewDynamoStoreWithClient(fake, DefaultTables())

	if err := st.PutUser(context.Background(), &User{Email: "bob@example.com", UserID: "u-2", AuthType: AuthTypeSSO}); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	if len(fake.puts) != 1 {
		t.Fatalf("expected one PutItem, got %d", len(fake.puts))
	}
	put := fake.puts[0]
	if aws.ToString(put.TableName) != "Users" {
		t.Errorf("expected Users table, got %s", aws.ToString(put.TableName))
	}
	if _, ok := put.Item["password"].(*types.AttributeValueMemberNULL); !ok {
		t.Errorf("expected NULL password attribute, got %#v", put.Item["password"])
	}
	if email, ok := put.Item["email"].(*types.AttributeValueMemberS); !ok || email.Value != "bob@example.com" {
		t.Errorf("unexpected email attribute %#v", put.Item["email"])
	}
}

func TestDynamoUpdateMissingItem(t *testing.T) {
	fake := &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}}
	st := NewDynamoStoreWithClient(fake, DefaultTables())

	if err := st.UpdateUserPassword(context.Background(), "missing@example.com", "hash"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if len(fake.updates) != 1 || fake.updates[0].ConditionExpression == nil {
		t.Fatal("expected a conditional UpdateItem")
	}

	fake.updateErr = errors.New("throttled")
	if err := st.SetSSOConfigActive(context.Background(), "a", true); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("expected wrapped service error, got %v", err)
	}
}

func TestDynamoListChatsSorted(t *testing.T) {
	fake := &fakeDynamo{queryItems: []map[string]types.AttributeValue{
		{"userId": str("u-1"), "chatId": str("c-1"), "title": str("Old"), "createdAt": str("2025-01-01T00:00:00.000Z"), "updatedAt": str("2025-01-01T00:00:00.000Z")},
		{"userId": str("u-1"), "chatId": str("c-2"), "title": str("New"), "createdAt": str("2025-01-01T00:00:00.000Z"), "updatedAt": str("2025-01-03T00:00:00.000Z")},
	}}
	st := NewDynamoStoreWithClient(fake, DefaultTables())

	chats, err := st.ListChats(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(chats) != 2 || chats[0].ChatID != "c-2" {
		t.Errorf("expected most recently updated first, got %+v", chats)
	}
	if len(fake.queries) != 1 || fake.queries[0].KeyConditionExpression == nil {
		t.Fatal("expected a key-conditioned Query")
	}
	if aws.ToString(fake.queries[0].TableName) != "ChatSessions" {
		t.Errorf("expected ChatSessions table, got %s", aws.ToString(fake.queries[0].TableName))
	}
}

func TestDynamoGetActiveSSOConfigFilters(t *testing.T) {
	fake := &fakeDynamo{}
	st := NewDynamoStoreWithClient(fake, DefaultTables())

	got, err := st.GetActiveSSOConfig(context.Background())
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil, got %v, %v", got, err)
	}
	if len(fake.scans) != 1 || fake.scans[0].FilterExpression == nil {
		t.Fatal("expected a filtered Scan")
	}

	fake.scanItems = []map[string]types.AttributeValue{
		{"id": str("a"), "issuer": str("idp"), "entryPoint": str("https://idp/sso"), "cert": str("MIIA"), "isActive": &types.AttributeValueMemberBOOL{Value: true}, "updatedAt": str("2025-01-01T00:00:00.000Z")},
	}
	got, err = st.GetActiveSSOConfig(context.Background())
	if err != nil || got == nil || !got.IsActive || got.ID != "a" {
		t.Errorf("expected active config a, got %v, %v", got, err)
	}
}

func TestDynamoCreateTablesSkipsExisting(t *testing.T) {
	fake := &fakeDynamo{createErr: map[string]error{
		"Users": &types.ResourceInUseException{Message: aws.String("exists")},
	}}
	st := NewDynamoStoreWithClient(fake, DefaultTables())

	if err := st.CreateTables(context.Background()); err != nil {
		t.Fatalf("CreateTables: %v", err)
	}
	if len(fake.creates) != 5 {
		t.Fatalf("expected 5 CreateTable calls, got %d", len(fake.creates))
	}
	for _, in := range fake.creates {
		if aws.ToString(in.TableName) != "ChatMessages" {
			continue
		}
		if len(in.KeySchema) != 2 || aws.ToString(in.KeySchema[1].AttributeName) != "timestamp" || in.KeySchema[1].KeyType != types.KeyTypeRange {
			t.Errorf("unexpected ChatMessages key schema %+v", in.KeySchema)
		}
	}

	fake.createErr = map[string]error{"Secrets": errors.New("access denied")}
	fake.creates = nil
	if err := st.CreateTables(context.Background()); err == nil {
		t.Error("expected error to propagate")
	}
}
