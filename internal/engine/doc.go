// Package engine содержит модель графа задач.
//
// Включает:
//   - graph.go    — задачи и рёбра child / follow-on, проверка циклов
//   - scope.go    — расширение графа из тела выполняющейся задачи
//   - validate.go — проверка графа перед запуском (топологическая сортировка)
//   - promise.go  — promises и таблица разрешённых результатов
//   - values.go   — сериализация входов/результатов для job store
//   - funcs.go    — реестр функций задач и TaskContext
//
// Engine не выполняет задачи сам: это делает substrate (пакет localexec).
package engine
