package game

// EconomyPolicy 客戶端回報的經濟數值在寫入房間前經過的唯一檢查點
//
// 客戶端是金幣與基地血量的權威來源，伺服器只做最低限度的限制。
// 之後要加上規則驗證（例如比對兵種花費）只需替換此介面。
type EconomyPolicy interface {
	// Gold 返回實際寫入的金幣
	Gold(reported int) int
	// BaseHP 返回實際寫入的基地血量
	BaseHP(reported int) int
}

// FloorPolicy 將低於 0 的數值設為 0，其餘原樣接受
type FloorPolicy struct{}

// Gold 金幣下限 0
func (FloorPolicy) Gold(reported int) int {
	return max(0, reported)
}

// BaseHP 血量下限 0
func (FloorPolicy) BaseHP(reported int) int {
	return max(0, reported)
}
