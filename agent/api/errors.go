package api

import "fmt"

var ErrPathOverflowsWorkspace = fmt.Errorf("path overflows workspace")
var ErrFileCreationError = fmt.Errorf("file creation error")
var ErrFileNotFound = fmt.Errorf("file not found")
var ErrFailedToStatFile = fmt.Errorf("failed to stat file")
var ErrFailedToRemove = fmt.Errorf("failed to remove")
var ErrFailedToStartCommand = fmt.Errorf("failed to start command")
var ErrCommandTimedOut = fmt.Errorf("command timed out")
