// Command taskweave is the Orchestrator Entry point: it creates, resumes,
// and inspects task trees, and is also the binary each task's runtime
// process re-execs itself as (`taskweave run <task_id>`).
//
// Grounded on vanducng-goclaw/cmd/root.go's cobra dispatch shape, replacing
// the teacher's hand-rolled flag-based cmd/vega/main.go dispatch.
package main

func main() {
	Execute()
}
