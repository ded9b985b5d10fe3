package registry

import "github.com/ethereum/go-ethereum/common"

// Seed tokens for Ethereum mainnet. Feed addresses are Chainlink
// aggregator proxies; tokens without an entry for a quote currency
// fall through to the pivot and market-spot strategies.
func mainnetTokens() []Token {
	return []Token{
		{
			Address:  common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
			Symbol:   "WETH",
			Decimals: 18,
			Feeds: map[QuoteCurrency]common.Address{
				QuoteUSD: common.HexToAddress("0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"),
			},
		},
		{
			Address:  common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
			Symbol:   "USDC",
			Decimals: 6,
			Feeds: map[QuoteCurrency]common.Address{
				QuoteUSD: common.HexToAddress("0x8fFfFfd4AfB6115b954Bd326cbe7B4BA576818f6"),
				QuoteETH: common.HexToAddress("0x986b5E1e1755e3C2440e960477f25201B0a8bbD4"),
			},
		},
		{
			Address:  common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"),
			Symbol:   "USDT",
			Decimals: 6,
			Feeds: map[QuoteCurrency]common.Address{
				QuoteUSD: common.HexToAddress("0x3E7d1eAB13ad0104d2750B8863b489D65364e32D"),
				QuoteETH: common.HexToAddress("0xEe9F2375b4bdF6387aa8265dD4FB8F16512A1d46"),
			},
		},
		{
			Address:  common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"),
			Symbol:   "DAI",
			Decimals: 18,
			Feeds: map[QuoteCurrency]common.Address{
				QuoteUSD: common.HexToAddress("0xAed0c38402a5d19df6E4c03F4E2DceD6e29c1ee9"),
				QuoteETH: common.HexToAddress("0x773616E4d11A78F511299002da57A0a94577F1f4"),
			},
		},
		{
			Address:  common.HexToAddress("0x514910771AF9Ca656af840dff83E8264EcF986CA"),
			Symbol:   "LINK",
			Decimals: 18,
			Feeds: map[QuoteCurrency]common.Address{
				QuoteUSD: common.HexToAddress("0x2c1d072e956AFFC0D435Cb7AC38EF18d24d9127c"),
				QuoteETH: common.HexToAddress("0xDC530D9457755926550b59e8ECcdaE7624181557"),
			},
		},
		{
			// No Chainlink feeds configured so pricing goes through
			// the on-chain market path.
			Address:  common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599"),
			Symbol:   "WBTC",
			Decimals: 8,
		},
	}
}

// DefaultTokens returns the seed token set for a chain. Unknown chains
// start with an empty registry and rely on on-chain discovery.
func DefaultTokens(chainID uint64) []Token {
	if chainID == 1 {
		return mainnetTokens()
	}
	return nil
}
