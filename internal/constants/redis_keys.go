package constants

import "time"

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// RunModulePrefix 运行模块
	RunModulePrefix = "run"
	// UserModulePrefix 用户模块
	UserModulePrefix = "user"

	// EntitySnapshot 运行快照实体
	EntitySnapshot = "snapshot"
	// EntityAIConfig 用户AI配置实体
	EntityAIConfig = "ai_config"

	// KeyRunSnapshot 运行快照 (STRING, JSON)
	// 格式: app:run:snapshot:{runID}
	KeyRunSnapshot = AppPrefix + ":" + RunModulePrefix + ":" + EntitySnapshot + ":%s"

	// KeyUserAIConfig 用户AI配置缓存 (STRING, JSON)
	// 格式: app:user:ai_config:{userID}
	KeyUserAIConfig = AppPrefix + ":" + UserModulePrefix + ":" + EntityAIConfig + ":%s"
)

const (
	// RunSnapshotTTL 运行快照在 Redis 中的保留时间
	RunSnapshotTTL = 24 * time.Hour
	// UserAIConfigTTL 用户AI配置缓存时间
	UserAIConfigTTL = 5 * time.Minute
)
