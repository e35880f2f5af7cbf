// Package checkpoint пишет терминальные артефакты прямо в durable store
// (S3-совместимое хранилище или каталог), минуя экспорт вызывающему.
//
// Ключ назначения — URL: s3://bucket/path/out.hal, file:///data/out.hal или
// обычный путь. Регион выбирает клиента S3; для каталогов он игнорируется.
package checkpoint
