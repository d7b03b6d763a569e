package idgen

import (
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ============================================================================
// 雪花算法 ID 生成器
// ============================================================================
//
// 流水号要求全局唯一、趋势递增，多实例部署时每个实例配置不同的 workerID
//
//   0 - 41位时间戳 - 10位机器ID - 12位序列号
//
// ============================================================================

// 起始时间戳（2024-01-01 00:00:00 UTC）
const epoch = int64(1704067200000)

var (
	defaultNode *snowflake.Node
	mu          sync.Mutex
)

// Init 初始化默认ID生成器，workerID 范围 0-1023
func Init(workerID int64) error {
	mu.Lock()
	defer mu.Unlock()

	snowflake.Epoch = epoch
	node, err := snowflake.NewNode(workerID)
	if err != nil {
		return fmt.Errorf("初始化ID生成器失败: %w", err)
	}
	defaultNode = node
	return nil
}

// NextID 生成下一个ID
func NextID() int64 {
	mu.Lock()
	if defaultNode == nil {
		snowflake.Epoch = epoch
		// workerID = 1 一定合法
		defaultNode, _ = snowflake.NewNode(1)
	}
	node := defaultNode
	mu.Unlock()

	return node.Generate().Int64()
}

func generate(prefix string) string {
	id := NextID()
	timestamp := time.Now().Format("20060102150405")
	return fmt.Sprintf("%s%s%d", prefix, timestamp, id)
}

// GenerateTransactionNo 生成流水号
// 格式：TXN + 年月日时分秒 + 雪花ID
func GenerateTransactionNo() string {
	return generate("TXN")
}

// GenerateEventNo 生成事件号
func GenerateEventNo() string {
	return generate("EVT")
}
