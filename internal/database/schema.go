package database

import (
	"context"
	"database/sql"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    telegram_id BIGINT NOT NULL UNIQUE,
    username VARCHAR(255),
    first_name VARCHAR(255),
    last_name VARCHAR(255),
    balance DECIMAL(12,2) NOT NULL DEFAULT 0,
    privileged TINYINT(1) NOT NULL DEFAULT 0,
    banned TINYINT(1) NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS catalog_models (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    category VARCHAR(32) NOT NULL,
    provider_type VARCHAR(128) NOT NULL,
    base_credits DECIMAL(12,2),
    params_json TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS tasks (
    id VARCHAR(64) PRIMARY KEY,
    user_id BIGINT NOT NULL,
    model_id VARCHAR(64) NOT NULL,
    params_json TEXT NOT NULL,
    price DECIMAL(12,2) NOT NULL,
    status VARCHAR(32) NOT NULL,
    price_deducted TINYINT(1) NOT NULL DEFAULT 0,
    needs_review TINYINT(1) NOT NULL DEFAULT 0,
    fail_code VARCHAR(64),
    fail_msg TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    completed_at TIMESTAMP NULL,
    FOREIGN KEY (user_id) REFERENCES users(id)
)`,
	`CREATE TABLE IF NOT EXISTS payment_requests (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    amount DECIMAL(12,2) NOT NULL,
    evidence_ref VARCHAR(512),
    status VARCHAR(16) NOT NULL DEFAULT 'pending',
    resolved_by BIGINT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    resolved_at TIMESTAMP NULL,
    FOREIGN KEY (user_id) REFERENCES users(id)
)`,
	`CREATE TABLE IF NOT EXISTS settings (
    id TINYINT PRIMARY KEY,
    credit_usd DECIMAL(12,6) NOT NULL,
    exchange_rate DECIMAL(12,4) NOT NULL,
    markup DECIMAL(12,4) NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`,
}

// seedModel mirrors the provider catalog the menu is built from. The
// catalog is static; syncing it from the provider is out of scope.
type seedModel struct {
	id           string
	name         string
	category     string
	providerType string
	baseCredits  string // empty = pricing undetermined
	paramsJSON   string
}

var catalogModels = []seedModel{
	{
		id: "z-image", name: "Z-Image", category: "photo", providerType: "z-image", baseCredits: "0.8",
		paramsJSON: `[
  {"name":"prompt","type":"string","required":true,"max_length":1000,"prompt":"Опишите изображение, которое хотите получить"},
  {"name":"aspect_ratio","type":"string","required":true,"default":"1:1","enum":["1:1","4:3","3:4","16:9","9:16"],"prompt":"Выберите соотношение сторон"}
]`,
	},
	{
		id: "nano-banana-pro", name: "Nano Banana Pro", category: "photo", providerType: "nano-banana-pro", baseCredits: "18",
		paramsJSON: `[
  {"name":"prompt","type":"string","required":true,"max_length":10000,"prompt":"Опишите изображение, которое хотите получить"},
  {"name":"image_input","type":"array","required":false,"prompt":"Пришлите до 8 референсов или нажмите «Пропустить»"},
  {"name":"aspect_ratio","type":"string","required":false,"default":"1:1","enum":["1:1","2:3","3:2","3:4","4:3","4:5","5:4","9:16","16:9","21:9","auto"],"prompt":"Выберите соотношение сторон"},
  {"name":"resolution","type":"string","required":false,"default":"1K","enum":["1K","2K","4K"],"prompt":"Выберите разрешение (4K дороже)"},
  {"name":"output_format","type":"string","required":false,"default":"png","enum":["png","jpg"],"prompt":"Выберите формат файла"}
]`,
	},
	{
		id: "seedream-text-to-image", name: "Seedream 4.5 Text-to-Image", category: "photo", providerType: "seedream/4.5-text-to-image", baseCredits: "6.5",
		paramsJSON: `[
  {"name":"prompt","type":"string","required":true,"max_length":3000,"prompt":"Опишите изображение, которое хотите получить"},
  {"name":"aspect_ratio","type":"string","required":true,"default":"1:1","enum":["1:1","4:3","3:4","16:9","9:16","2:3","3:2","21:9"],"prompt":"Выберите соотношение сторон"},
  {"name":"quality","type":"string","required":true,"default":"basic","enum":["basic","high"],"prompt":"Выберите качество (basic = 2K, high = 4K)"}
]`,
	},
	{
		id: "seedream-edit", name: "Seedream 4.5 Edit", category: "photo", providerType: "seedream/4.5-edit", baseCredits: "6.5",
		paramsJSON: `[
  {"name":"prompt","type":"string","required":true,"max_length":3000,"prompt":"Опишите изменения, которые нужно внести"},
  {"name":"image_input","type":"array","required":true,"prompt":"Пришлите изображение для редактирования"},
  {"name":"aspect_ratio","type":"string","required":true,"default":"1:1","enum":["1:1","4:3","3:4","16:9","9:16","2:3","3:2","21:9"],"prompt":"Выберите соотношение сторон"},
  {"name":"quality","type":"string","required":true,"default":"basic","enum":["basic","high"],"prompt":"Выберите качество (basic = 2K, high = 4K)"}
]`,
	},
	{
		id: "sora-watermark-remover", name: "Sora 2 Watermark Remover", category: "video", providerType: "sora-watermark-remover", baseCredits: "10",
		paramsJSON: `[
  {"name":"video_url","type":"string","required":true,"max_length":500,"prompt":"Пришлите публичную ссылку на видео Sora 2 (sora.chatgpt.com)"}
]`,
	},
	{
		id: "sora-2-text-to-video", name: "Sora 2 Text-to-Video", category: "video", providerType: "sora-2-text-to-video", baseCredits: "30",
		paramsJSON: `[
  {"name":"prompt","type":"string","required":true,"max_length":10000,"prompt":"Опишите видео, которое хотите получить"},
  {"name":"aspect_ratio","type":"string","required":false,"default":"landscape","enum":["portrait","landscape"],"prompt":"Выберите ориентацию"},
  {"name":"n_frames","type":"string","required":false,"default":"10","enum":["10","15"],"prompt":"Выберите длительность (секунды)"},
  {"name":"remove_watermark","type":"boolean","required":false,"default":"true","prompt":"Удалить водяной знак? (да/нет)"}
]`,
	},
}

func seedCatalog(ctx context.Context, db *sql.DB) error {
	const query = `
INSERT IGNORE INTO catalog_models (id, name, category, provider_type, base_credits, params_json)
VALUES (?, ?, ?, ?, ?, ?)`
	for _, m := range catalogModels {
		var credits any
		if m.baseCredits != "" {
			credits = m.baseCredits
		}
		if _, err := db.ExecContext(ctx, query, m.id, m.name, m.category, m.providerType, credits, m.paramsJSON); err != nil {
			return fmt.Errorf("insert model %s: %w", m.id, err)
		}
	}
	return nil
}
