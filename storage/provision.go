package storage

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

const queueAlreadyExists = "QueueAlreadyExists"

type tableCreator interface {
	CreateTable(ctx context.Context, options *aztables.CreateTableOptions) (aztables.CreateTableResponse, error)
}

type queueCreator interface {
	Create(ctx context.Context, o *azqueue.CreateOptions) (azqueue.CreateResponse, error)
}

// Provision creates the given tables and queues in an Azure Storage account.
// Resources that already exist are left untouched and empty names skipped.
func Provision(ctx context.Context, connStr string, tables, queues []string, logger *log.Logger) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range tables {
		if name == "" {
			continue
		}
		if err := createTable(ctx, svc.NewClient(name)); err != nil {
			return err
		}
		logger.WithField("table", name).Info("table ready")
	}

	for _, name := range queues {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		if err := createQueue(ctx, q); err != nil {
			return err
		}
		logger.WithField("queue", name).Info("queue ready")
	}
	return nil
}

func createTable(ctx context.Context, c tableCreator) error {
	if _, err := c.CreateTable(ctx, nil); err != nil && !hasErrorCode(err, string(aztables.TableAlreadyExists)) {
		return err
	}
	return nil
}

func createQueue(ctx context.Context, q queueCreator) error {
	if _, err := q.Create(ctx, nil); err != nil && !hasErrorCode(err, queueAlreadyExists) {
		return err
	}
	return nil
}

func hasErrorCode(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
