package notion

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockClient implements Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func TestMockClientSatisfiesInterface(t *testing.T) {
	t.Parallel()
	var _ Client = (*MockClient)(nil)
}

func TestNewClientReturnsClient(t *testing.T) {
	c := NewClient("test-token", WithRateLimit(10))
	assert.NotNil(t, c)

	unthrottled := NewClient("test-token", WithRateLimit(0))
	assert.Nil(t, unthrottled.(*notionClient).limiter)
}

func TestNewClient_Retries(t *testing.T) {
	assert.Equal(t, 3, NewClient("test-token").(*notionClient).retries)
	assert.Equal(t, 0, NewClient("test-token", WithRetries(0)).(*notionClient).retries)
	assert.Equal(t, 3, NewClient("test-token", WithRetries(-1)).(*notionClient).retries)
}

func TestQueryDatabase_RateLimitHonoursContext(t *testing.T) {
	c := NewClient("test-token", WithRateLimit(1)).(*notionClient)
	// Drain the single burst token so the next call must wait.
	assert.True(t, c.limiter.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := c.QueryDatabase(ctx, "db-1", &notionapi.DatabaseQueryRequest{})
	assert.Error(t, err)
	assert.Nil(t, resp)
	assert.Contains(t, err.Error(), "notion: rate limit")
}
