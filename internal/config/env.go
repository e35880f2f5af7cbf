package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
)

// LoadEnv загружает переменные окружения из .env-файлов (по умолчанию
// ./.env). Уже заданные переменные не перезаписываются, отсутствующий
// файл не считается ошибкой.
//
// Через окружение настраиваются сервисы: DB_URL, RABBITMQ_URL, S3_ENDPOINT,
// S3_ACCESS_KEY, S3_SECRET_KEY, S3_REGION, S3_USE_SSL, LOG_LEVEL, LOG_FORMAT.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %s: %w", f, err)
		}
	}
	return nil
}
