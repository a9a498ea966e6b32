// Command specforge is the operator CLI. It opens the store directly and
// drives intake, verification, selection, compilation, pipeline runs, and
// grammar versions through the operator service.
package main
