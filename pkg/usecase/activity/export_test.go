package activity

// Sizes reports the index size, the record count and the number of indexed ids
func (uc *UseCase) Sizes() (indexSize, records, ids int) {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	return uc.index.Size(), len(uc.records), len(uc.index.IDs())
}
