// Package batch — точки входа выравнивания: одна партиция (RunSingle) или
// набор хромосом (RunBatch) под одной зонтичной задачей.
//
// Конфигурация всех партиций проверяется до отправки задач: одна ошибка
// конфигурации отменяет весь батч. После отправки партиции изолированы,
// и падение одной не затрагивает остальные.
package batch
