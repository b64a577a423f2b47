// Package cli is the command-line front end of the upload service.
//
// A command line such as
//
//	client -a 127.0.0.1:50051 -k $TOKEN submit ./photos -f /photos -wait
//
// runs one command and exits. Without a command the client starts a small
// REPL accepting the same commands, one per line.
//
// Commands:
//   - submit <dir>     scan a directory and create a task (-hold, -wait, -prefix)
//   - status <task>    show a task
//   - list             list tasks (-status, -offset, -limit)
//   - files <task>     list the files of a task
//   - follow <task>    poll progress until the task finishes
//   - dedup <task>     match the task's fingerprints against stored content
//   - cancel <task>    cancel a task
//   - delete <task>    delete a finished task (-purge)
//   - export <task>    print or save the storage manifest (-partial, -o)
//   - links <task>     print signed download links (-ttl)
//   - download <task>  fetch every stored file into a directory (-o, -rps)
//   - archive <task>   zip the stored files on the server and print the link (-ttl, -o)
//   - retry <task> <file>  re-queue a failed file of a running task
//   - ping             check the server
package cli
