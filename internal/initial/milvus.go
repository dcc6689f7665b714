package initial

import (
	"context"
	"fmt"
	"strings"

	"InsightLink/internal/config"
	"InsightLink/internal/modules/ai/infrastructure/vectordb"

	mclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// NewMilvusClient 未启用时返回 nil；库和集合不存在时自动创建
func NewMilvusClient(ctx context.Context, conf *config.Config) (mclient.Client, error) {
	if !conf.MilvusConfig.Enabled || strings.TrimSpace(conf.MilvusConfig.Address) == "" {
		return nil, nil
	}
	cli, err := newMilvusClientAndEnsureSchema(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("milvus init failed: %w", err)
	}
	return cli, nil
}

func newMilvusClientAndEnsureSchema(ctx context.Context, conf *config.Config) (mclient.Client, error) {
	addr := strings.TrimSpace(conf.MilvusConfig.Address)
	dbName := strings.TrimSpace(conf.MilvusConfig.DBName)
	collection := strings.TrimSpace(conf.MilvusConfig.CollectionName)

	if dbName == "" {
		dbName = "insightlink"
	}
	if collection == "" {
		collection = "business_context"
	}

	dim := conf.MilvusConfig.VectorDim
	if dim <= 0 {
		dim = conf.Embedding.Dimensions
	}

	defaultCli, err := mclient.NewClient(ctx, mclient.Config{
		Address:  addr,
		Username: strings.TrimSpace(conf.MilvusConfig.Username),
		Password: strings.TrimSpace(conf.MilvusConfig.Password),
		DBName:   "default",
	})
	if err != nil {
		return nil, err
	}

	dbs, err := defaultCli.ListDatabases(ctx)
	if err != nil {
		_ = defaultCli.Close()
		return nil, err
	}
	exists := false
	for _, db := range dbs {
		if db.Name == dbName {
			exists = true
			break
		}
	}
	if !exists {
		if err := defaultCli.CreateDatabase(ctx, dbName); err != nil {
			_ = defaultCli.Close()
			return nil, err
		}
	}

	cli, err := mclient.NewClient(ctx, mclient.Config{
		Address:  addr,
		Username: strings.TrimSpace(conf.MilvusConfig.Username),
		Password: strings.TrimSpace(conf.MilvusConfig.Password),
		DBName:   dbName,
	})
	if err != nil {
		_ = defaultCli.Close()
		return nil, err
	}

	cols, err := cli.ListCollections(ctx)
	if err != nil {
		_ = defaultCli.Close()
		_ = cli.Close()
		return nil, err
	}
	collExists := false
	for _, c := range cols {
		if c.Name == collection {
			collExists = true
			break
		}
	}

	if !collExists {
		schema := &entity.Schema{
			CollectionName: collection,
			Description:    "InsightLink business context embeddings",
			Fields: []*entity.Field{
				{
					Name:       vectordb.FieldID,
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					TypeParams: map[string]string{"max_length": "256"},
				},
				{
					Name:       vectordb.FieldVector,
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{entity.TypeParamDim: fmt.Sprintf("%d", dim)},
				},
				{
					Name:       vectordb.FieldNamespace,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "32"},
				},
				{
					Name:       vectordb.FieldKey,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "200"},
				},
				{
					Name:       vectordb.FieldContent,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": fmt.Sprintf("%d", vectordb.MaxContentLen)},
				},
				{
					Name:     vectordb.FieldMetadata,
					DataType: entity.FieldTypeJSON,
				},
			},
		}

		if err := cli.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			_ = defaultCli.Close()
			_ = cli.Close()
			return nil, err
		}

		idx, err := entity.NewIndexAUTOINDEX(entity.COSINE)
		if err != nil {
			_ = defaultCli.Close()
			_ = cli.Close()
			return nil, err
		}
		if err := cli.CreateIndex(ctx, collection, vectordb.FieldVector, idx, false); err != nil {
			_ = defaultCli.Close()
			_ = cli.Close()
			return nil, err
		}
	}

	_ = defaultCli.Close()

	_ = cli.LoadCollection(ctx, collection, false)

	return cli, nil
}
