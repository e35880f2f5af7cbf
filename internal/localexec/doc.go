// Package localexec — substrate выполнения графа задач на одной машине.
//
// Executor принимает граф с корнем, выполняет задачи с учётом рёбер
// child / follow-on, ограничивает параллелизм по ядрам и памяти, повторяет
// упавшие задачи и записывает каждое изменение статуса в JobStore.
// Restart продолжает вызов по записям JobStore: задачи в статусе SUCCEEDED
// повторно не выполняются.
package localexec
