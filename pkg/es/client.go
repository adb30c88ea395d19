// Package es 提供了与 Elasticsearch 交互的客户端功能，用于客户名称的模糊检索。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"invoice-assistant-go/internal/config"
	"invoice-assistant-go/internal/model"
	"invoice-assistant-go/pkg/log"
	"net/http"
	"strconv"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var ESClient *elasticsearch.Client

// InitES 初始化 Elasticsearch 客户端并确保客户索引存在。
func InitES(esCfg config.ElasticsearchConfig) error {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	return createIndexIfNotExists(client, esCfg.ClientIndex)
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func createIndexIfNotExists(client *elasticsearch.Client, indexName string) error {
	res, err := client.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	defer res.Body.Close()
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	// name 同时建 text（分词匹配）和 search_as_you_type（前缀匹配）两种字段
	mapping := `{
		"mappings": {
			"properties": {
				"client_id": { "type": "long" },
				"user_id":   { "type": "long" },
				"name": {
					"type": "text",
					"fields": {
						"prefix":  { "type": "search_as_you_type" },
						"keyword": { "type": "keyword", "ignore_above": 256 }
					}
				},
				"email": { "type": "keyword" }
			}
		}
	}`

	createRes, err := client.Indices.Create(
		indexName,
		client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	defer createRes.Body.Close()
	if createRes.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, createRes.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// IndexClient 写入或覆盖一个客户文档，文档 ID 即客户 ID。
func IndexClient(ctx context.Context, client *elasticsearch.Client, indexName string, doc model.ClientIndexDocument) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: strconv.FormatUint(uint64(doc.ClientID), 10),
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引客户到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index client")
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source model.ClientIndexDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// SearchClients 在指定用户的客户中做模糊检索，按相关度返回。
func SearchClients(ctx context.Context, client *elasticsearch.Client, indexName string, userID uint, query string, size int) ([]model.ClientIndexDocument, error) {
	esQuery := map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{
					map[string]interface{}{"term": map[string]interface{}{"user_id": userID}},
				},
				"should": []interface{}{
					map[string]interface{}{"match": map[string]interface{}{
						"name": map[string]interface{}{"query": query, "fuzziness": "AUTO"},
					}},
					map[string]interface{}{"multi_match": map[string]interface{}{
						"query":  query,
						"type":   "bool_prefix",
						"fields": []string{"name.prefix", "name.prefix._2gram", "name.prefix._3gram"},
					}},
				},
				"minimum_should_match": 1,
			},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := client.Search(
		client.Search.WithContext(ctx),
		client.Search.WithIndex(indexName),
		client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("es search failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("es search returned error: %s", res.String())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}
	docs := make([]model.ClientIndexDocument, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		docs = append(docs, h.Source)
	}
	return docs, nil
}
