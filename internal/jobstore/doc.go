// Package jobstore — реализации localexec.JobStore без внешней базы.
//
//   - Memory — в памяти процесса, для тестов и одноразовых запусков
//   - Dir    — JSON-файлы в каталоге, переживает перезапуск процесса
//
// PostgreSQL-реализация находится в пакете repo.
package jobstore
