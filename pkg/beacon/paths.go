package beacon

const (
	headPath              = "/eth/v1/beacon/headers/head"
	genesisPath           = "/eth/v1/beacon/genesis"
	headValidatorsPath    = "/eth/v1/beacon/states/head/validators"
	headValidatorPathFmt  = "/eth/v1/beacon/states/head/validators/%s"
	blockBySlotPathFmt    = "/eth/v2/beacon/blocks/%d"
	validatorIDsChunkSize = 100
	// proxies in front of beacon nodes commonly reject URLs above 8 KiB
	validatorIDsMaxQuery = 4096
)
