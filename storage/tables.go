package storage

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
)

// DefaultPartition groups kanban records in the table.
const DefaultPartition = "kanban"

// entityTable is the subset of *aztables.Client used by TableBackend.
type entityTable interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
}

// TableBackend stores each key as one Azure Table entity: the partition is
// fixed, the row key is the storage key and the value lives in a string
// property.
type TableBackend struct {
	table     entityTable
	partition string
}

type valueEntity struct {
	aztables.Entity
	Value string `json:"Value"`
}

// NewTableBackend connects to the given table using an Azure Storage
// connection string.
func NewTableBackend(connStr, table, partition string) (*TableBackend, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return newTableBackend(svc.NewClient(table), partition), nil
}

func newTableBackend(table entityTable, partition string) *TableBackend {
	if partition == "" {
		partition = DefaultPartition
	}
	return &TableBackend{table: table, partition: partition}
}

func (t *TableBackend) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := t.table.GetEntity(ctx, t.partition, key, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeValueEntity(resp.Value)
}

func (t *TableBackend) Set(ctx context.Context, key string, value []byte) error {
	payload, err := encodeValueEntity(t.partition, key, value)
	if err != nil {
		return err
	}
	_, err = t.table.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

func (t *TableBackend) Delete(ctx context.Context, key string) error {
	if _, err := t.table.DeleteEntity(ctx, t.partition, key, nil); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func encodeValueEntity(partition, key string, value []byte) ([]byte, error) {
	return sonic.Marshal(valueEntity{
		Entity: aztables.Entity{PartitionKey: partition, RowKey: key},
		Value:  string(value),
	})
}

func decodeValueEntity(data []byte) ([]byte, error) {
	var ent valueEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return nil, err
	}
	return []byte(ent.Value), nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
