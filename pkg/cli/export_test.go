package cli

var RunWithIO = run
