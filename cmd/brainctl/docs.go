package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           brainctl API
// @version         1.0
// @description     Control API for GPU-pinned inference node orchestration.
//
// @contact.name   brainctl maintainers
// @contact.url    https://github.com/your-org/brainctl
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
