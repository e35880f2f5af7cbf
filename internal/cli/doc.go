// Package cli реализует команды alignflow.
//
// # Команды
//
//   - align SEQFILE PAFFILE OUTHAL — выравнивание одного seqfile
//   - batch CHROMFILE OUTDIR — выравнивание по хромосомам под одним вызовом
//   - watch — поток событий task.completed и partition.completed из RabbitMQ
//
// align и batch разделяют флаги (Options): job store, конфигурация
// конвейера, ёмкость substrate, ресурсы consolidate. Каждая команда
// собирает session: job store (mem, каталог или pg:NAME), artifact store,
// checkpoint sink (S3 при заданных S3_ACCESS_KEY/S3_SECRET_KEY),
// localexec.Executor и batch.Coordinator.
//
// # Output
//
// Итог по партициям выводится таблицей (text/tabwriter) или JSON (--json)
// в stdout; логи и сообщения идут в stderr.
//
//	alignflow batch chroms.txt out/ --jobStore ./js --json | jq '.[] | select(.status=="failed")'
package cli
