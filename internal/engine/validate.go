package engine

import "fmt"

// Validate выполняет полную проверку графа перед отправкой на выполнение.
//
// Проверяет:
// - root принадлежит графу и ни к чему не прикреплён
// - каждая задача достижима из root
// - promises во входах ссылаются на задачи графа
// - отсутствие циклов (топологическая сортировка)
//
// Возвращает задачи в топологическом порядке.
func (g *Graph) Validate(root *Task) ([]*Task, error) {
	if root == nil {
		return nil, ErrNilTask
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if root.graph != g {
		return nil, NewValidationError(root.id, "root", "root belongs to another graph", ErrForeignTask)
	}
	if root.owner != nil {
		return nil, NewValidationError(root.id, "root",
			fmt.Sprintf("attached to %s", root.owner.id), ErrNotRoot)
	}

	// 1. Каждая задача должна вести к root по цепочке владельцев
	for _, t := range g.order {
		top := t
		for top.owner != nil {
			top = top.owner
		}
		if top != root {
			return nil, NewValidationError(t.id, "owner", "task is not reachable from the root", ErrDetachedTask)
		}
	}

	// 2. Promises во входах
	for _, t := range g.order {
		for _, p := range CollectPromises(t.spec.Inputs) {
			if _, ok := g.tasks[p.TaskID]; !ok {
				return nil, NewValidationError(t.id, "inputs",
					fmt.Sprintf("promise references unknown task %q", p.TaskID), ErrUnknownPromise)
			}
		}
	}

	// 3. Циклы
	return g.topologicalSortLocked()
}

// topologicalSortLocked выполняет топологическую сортировку (алгоритм Кана)
// по отношению «предпосылка → задача». Возвращает ошибку, если обнаружен цикл.
func (g *Graph) topologicalSortLocked() ([]*Task, error) {
	inDegree := make(map[*Task]int, len(g.order))
	dependents := make(map[*Task][]*Task, len(g.order))

	for _, t := range g.order {
		prereqs := dedupe(prerequisitesLocked(t))
		inDegree[t] = len(prereqs)
		for _, p := range prereqs {
			dependents[p] = append(dependents[p], t)
		}
	}

	queue := make([]*Task, 0)
	for _, t := range g.order {
		if inDegree[t] == 0 {
			queue = append(queue, t)
		}
	}

	order := make([]*Task, 0, len(g.order))
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		order = append(order, t)

		for _, d := range dependents[t] {
			inDegree[d]--
			if inDegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}

	// Если не все задачи обработаны — есть цикл
	if len(order) != len(g.order) {
		return nil, ErrCyclicDependency
	}
	return order, nil
}

func dedupe(tasks []*Task) []*Task {
	seen := make(map[*Task]bool, len(tasks))
	out := tasks[:0:0]
	for _, t := range tasks {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
